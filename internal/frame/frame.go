// Package frame implements the inverter's binary wire protocol: magic-prefixed,
// length-delimited, CRC16/MODBUS-checked frames carrying one of four packet
// kinds (Heartbeat, TranslatedData, ReadParam, WriteParam).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

const (
	magic0 = 0xA1
	magic1 = 0x1A

	tcpFunctionHeartbeat      = 193
	tcpFunctionTranslatedData = 194
	tcpFunctionReadParam      = 195
	tcpFunctionWriteParam     = 196

	// MaxBufferSize bounds the streaming decoder's internal buffer. A
	// connection that accumulates more undecoded bytes than this without
	// completing a frame is considered fatally desynced.
	MaxBufferSize = 64 * 1024

	outerHeaderLen = 18 // magic(2) + protocol(2) + frameLength(2) + 0x01(1) + tcpFunction(1) + datalog(10)
)

// DeviceFunction identifies the operation carried by a TranslatedData frame.
type DeviceFunction uint8

const (
	ReadHold    DeviceFunction = 3
	ReadInput   DeviceFunction = 4
	WriteSingle DeviceFunction = 6
	WriteMulti  DeviceFunction = 16
)

func (f DeviceFunction) String() string {
	switch f {
	case ReadHold:
		return "ReadHold"
	case ReadInput:
		return "ReadInput"
	case WriteSingle:
		return "WriteSingle"
	case WriteMulti:
		return "WriteMulti"
	default:
		return fmt.Sprintf("DeviceFunction(%d)", uint8(f))
	}
}

// direction distinguishes which side produced a TranslatedData body, since
// the presence of the value-length byte depends on it.
type direction int

const (
	dirClient   direction = iota // bridge -> inverter (requests we encode)
	dirInverter                  // inverter -> bridge (replies we decode)
)

// Packet is the sum type transported over the inverter channel.
type Packet interface {
	Datalog() serial.Serial
	packetKind() string
}

// Heartbeat is an idle keep-alive frame; it carries no payload beyond the
// datalog identity.
type Heartbeat struct {
	DatalogSerial serial.Serial
}

func (h Heartbeat) Datalog() serial.Serial { return h.DatalogSerial }
func (h Heartbeat) packetKind() string     { return "Heartbeat" }

// TranslatedData is the inverter's Modbus-style sub-protocol: a register
// read or write addressed to a specific inverter behind the datalog gateway.
type TranslatedData struct {
	DatalogSerial  serial.Serial
	DeviceFunction DeviceFunction
	InverterSerial serial.Serial
	Register       uint16
	Values         []byte
}

func (t TranslatedData) Datalog() serial.Serial { return t.DatalogSerial }
func (t TranslatedData) packetKind() string     { return "TranslatedData" }

// Value interprets the first two bytes of Values as a little-endian u16,
// used by commands that expect a single scalar register value back.
func (t TranslatedData) Value() uint16 {
	if len(t.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(t.Values[:2])
}

// Pairs splits Values into (register, word) pairs starting at Register.
func (t TranslatedData) Pairs() map[uint16]uint16 {
	out := make(map[uint16]uint16, len(t.Values)/2)
	for i := 0; i+1 < len(t.Values); i += 2 {
		out[t.Register+uint16(i/2)] = binary.LittleEndian.Uint16(t.Values[i : i+2])
	}
	return out
}

// ReadParam requests or returns an opaque parameter register, addressed only
// by datalog (not by individual inverter).
type ReadParam struct {
	DatalogSerial serial.Serial
	Register      uint16
	Values        []byte
}

func (r ReadParam) Datalog() serial.Serial { return r.DatalogSerial }
func (r ReadParam) packetKind() string     { return "ReadParam" }

// Value interprets the first two bytes of Values as a little-endian u16.
func (r ReadParam) Value() uint16 {
	if len(r.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(r.Values[:2])
}

// WriteParam writes an opaque parameter register.
type WriteParam struct {
	DatalogSerial serial.Serial
	Register      uint16
	Values        []byte
}

func (w WriteParam) Datalog() serial.Serial { return w.DatalogSerial }
func (w WriteParam) packetKind() string     { return "WriteParam" }

// Value interprets the first two bytes of Values as a little-endian u16.
func (w WriteParam) Value() uint16 {
	if len(w.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(w.Values[:2])
}

// protocolFor returns the protocol selector for a TranslatedData frame:
// WriteMulti uses protocol 2, everything else uses protocol 1.
func protocolFor(fn DeviceFunction) uint16 {
	if fn == WriteMulti {
		return 2
	}
	return 1
}

// hasValueLengthByte implements the length-byte rule: a value_length byte
// precedes values iff protocol != 1 AND the direction matches the function.
func hasValueLengthByte(dir direction, protocol uint16, fn DeviceFunction) bool {
	p1 := protocol == 1
	fromInverter := dir == dirInverter
	switch fn {
	case ReadHold, ReadInput:
		return !p1 && fromInverter
	case WriteSingle:
		return false
	case WriteMulti:
		return !p1 && !fromInverter
	default:
		return false
	}
}

// wrapOuter prepends the outer frame header (magic, protocol, length, 0x01,
// tcp function, datalog) to an already-built body (including its trailing
// CRC) and returns the complete wire frame.
func wrapOuter(datalog serial.Serial, tcpFunction byte, protocol uint16, body []byte) []byte {
	out := make([]byte, 0, outerHeaderLen+len(body))
	out = append(out, magic0, magic1)
	out = appendU16LE(out, protocol)
	// frameLengthField counts every byte from offset 6 (the 0x01 marker)
	// through the end of the frame: 0x01(1) + tcpFunction(1) + datalog(10) + body.
	frameLengthField := uint16(12 + len(body))
	out = appendU16LE(out, frameLengthField)
	out = append(out, 0x01, tcpFunction)
	out = append(out, datalog.Bytes()...)
	out = append(out, body...)
	return out
}

func appendU16LE(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// EncodeTranslatedData builds the wire bytes for a client-originated
// TranslatedData request.
func EncodeTranslatedData(td TranslatedData) []byte {
	protocol := protocolFor(td.DeviceFunction)

	body := make([]byte, 0, 32+len(td.Values))
	body = appendU16LE(body, 0) // body_length placeholder, fixed up below
	body = append(body, 0)      // address: 0 = client -> inverter
	body = append(body, byte(td.DeviceFunction))
	body = append(body, td.InverterSerial.Bytes()...)
	body = appendU16LE(body, td.Register)

	if td.DeviceFunction == WriteMulti {
		body = appendU16LE(body, uint16(len(td.Values)/2))
	}
	if hasValueLengthByte(dirClient, protocol, td.DeviceFunction) {
		body = append(body, byte(len(td.Values)))
	}
	body = append(body, td.Values...)

	bodyLength := uint16(len(body) - 2)
	binary.LittleEndian.PutUint16(body[0:2], bodyLength)

	crc := CRC16Modbus(body[2:])
	body = appendU16LE(body, crc)

	return wrapOuter(td.DatalogSerial, tcpFunctionTranslatedData, protocol, body)
}

// EncodeHeartbeat builds the wire bytes for a heartbeat frame.
func EncodeHeartbeat(h Heartbeat) []byte {
	body := []byte{0x00}
	return wrapOuter(h.DatalogSerial, tcpFunctionHeartbeat, 2, body)
}

// EncodeReadParam builds the wire bytes for a ReadParam request.
func EncodeReadParam(r ReadParam) []byte {
	return encodeParamFamily(r.DatalogSerial, tcpFunctionReadParam, r.Register, r.Values, true)
}

// EncodeWriteParam builds the wire bytes for a WriteParam request.
func EncodeWriteParam(w WriteParam) []byte {
	return encodeParamFamily(w.DatalogSerial, tcpFunctionWriteParam, w.Register, w.Values, false)
}

func encodeParamFamily(datalog serial.Serial, tcpFunction byte, register uint16, values []byte, lengthByte bool) []byte {
	const protocol = 2

	body := make([]byte, 0, 16+len(values))
	body = appendU16LE(body, 0) // body_length placeholder
	body = appendU16LE(body, register)
	if lengthByte {
		body = append(body, byte(len(values)))
	}
	body = append(body, values...)

	bodyLength := uint16(len(body) - 2)
	binary.LittleEndian.PutUint16(body[0:2], bodyLength)

	crc := CRC16Modbus(body[2:])
	body = appendU16LE(body, crc)

	return wrapOuter(datalog, tcpFunction, protocol, body)
}

// Encode dispatches to the correct encoder for the packet's concrete kind.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case Heartbeat:
		return EncodeHeartbeat(v), nil
	case TranslatedData:
		return EncodeTranslatedData(v), nil
	case ReadParam:
		return EncodeReadParam(v), nil
	case WriteParam:
		return EncodeWriteParam(v), nil
	default:
		return nil, fmt.Errorf("frame: unknown packet kind %T", p)
	}
}
