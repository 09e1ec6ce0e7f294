package frame

import (
	"bytes"
	"testing"

	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	wire := []byte{
		0xA1, 0x1A, 0x02, 0x00, 0x0D, 0x00, 0x01, 0xC1,
		0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x31,
		0x00,
	}

	dec := NewDecoder()
	if err := dec.Feed(wire); err != nil {
		t.Fatalf("feed: %v", err)
	}
	p, ok, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	hb, ok := p.(Heartbeat)
	if !ok {
		t.Fatalf("expected Heartbeat, got %T", p)
	}
	if hb.Datalog().String() != "0000000001" {
		t.Fatalf("datalog = %q, want 0000000001", hb.Datalog().String())
	}

	encoded := EncodeHeartbeat(hb)
	if !bytes.Equal(encoded, wire) {
		t.Fatalf("re-encode = % x, want % x", encoded, wire)
	}
}

func TestReadHoldRequestConstruction(t *testing.T) {
	datalog, err := serial.FromText("ABCDEFGHIJ")
	if err != nil {
		t.Fatalf("datalog: %v", err)
	}
	inverter, err := serial.FromText("1234567890")
	if err != nil {
		t.Fatalf("inverter: %v", err)
	}

	td := TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: ReadHold,
		InverterSerial: inverter,
		Register:       21,
		Values:         []byte{1, 0},
	}
	wire := EncodeTranslatedData(td)

	if len(wire) != 38 {
		t.Fatalf("frame length = %d, want 38", len(wire))
	}

	wantPrefix := []byte{0xA1, 0x1A, 0x01, 0x00, 0x20, 0x00, 0x01, 0xC2, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A}
	if !bytes.Equal(wire[:len(wantPrefix)], wantPrefix) {
		t.Fatalf("prefix = % x, want % x", wire[:len(wantPrefix)], wantPrefix)
	}

	wantInner := []byte{0x00, 0x03, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x30, 0x15, 0x00, 0x01, 0x00}
	if !bytes.Contains(wire[:len(wire)-2], wantInner) {
		t.Fatalf("frame body (excluding crc) = % x, does not contain % x", wire[:len(wire)-2], wantInner)
	}
}

func TestTranslatedDataRoundTrip(t *testing.T) {
	datalog, _ := serial.FromText("DATALOG001")
	inverter, _ := serial.FromText("INVERTER01")

	td := TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: WriteMulti,
		InverterSerial: inverter,
		Register:       40,
		Values:         []byte{1, 0, 2, 0, 3, 0},
	}

	wire := EncodeTranslatedData(td)
	dec := NewDecoder()
	if err := dec.Feed(wire); err != nil {
		t.Fatalf("feed: %v", err)
	}
	p, ok, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatalf("expected complete frame")
	}
	got, ok := p.(TranslatedData)
	if !ok {
		t.Fatalf("expected TranslatedData, got %T", p)
	}
	if got.Register != 40 || got.DeviceFunction != WriteMulti {
		t.Fatalf("decoded = %+v", got)
	}
	pairs := got.Pairs()
	if pairs[40] != 1 || pairs[41] != 2 || pairs[42] != 3 {
		t.Fatalf("pairs = %v", pairs)
	}
}
