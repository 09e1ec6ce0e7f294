package command

import (
	"strings"
	"testing"

	"github.com/lachlan2k/eg4-bridge/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func TestValidateBlockBoundaryRejectsCrossBlockRead(t *testing.T) {
	err := validateBlockBoundary(35, 11)
	if err == nil {
		t.Fatalf("expected an error for a read crossing a block boundary")
	}
	if !strings.Contains(err.Error(), "block 0") || !strings.Contains(err.Error(), "block 1") {
		t.Fatalf("error %q does not name both blocks", err.Error())
	}
}

func TestValidateBlockBoundaryAcceptsWithinBlock(t *testing.T) {
	if err := validateBlockBoundary(21, 1); err != nil {
		t.Fatalf("unexpected error for a single-register read: %v", err)
	}
	if err := validateBlockBoundary(0, 40); err != nil {
		t.Fatalf("unexpected error for a full-block read: %v", err)
	}
}

func TestValidateBlockBoundaryRejectsOverrun(t *testing.T) {
	if err := validateBlockBoundary(35, 5); err != nil {
		t.Fatalf("unexpected error for a read filling out the rest of its block: %v", err)
	}
	if err := validateBlockBoundary(35, 6); err == nil {
		t.Fatalf("expected an error for a read overrunning its block")
	}
}

func TestCheckReadOnlyRefusesWhenInverterIsReadOnly(t *testing.T) {
	cfg := &config.Loaded{Config: config.Config{ReadOnly: boolPtr(false)}}
	inv := config.Inverter{ReadOnlyPtr: boolPtr(true)}

	err := checkReadOnly(cfg, inv)
	if err == nil {
		t.Fatalf("expected SetHold-style refusal for a read-only inverter")
	}
	if !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("error %q does not mention read-only", err.Error())
	}
}

func TestCheckReadOnlyRefusesWhenBridgeIsReadOnly(t *testing.T) {
	cfg := &config.Loaded{Config: config.Config{ReadOnly: boolPtr(true)}}
	inv := config.Inverter{}

	if err := checkReadOnly(cfg, inv); err == nil {
		t.Fatalf("expected refusal when the bridge-wide read_only switch is set")
	}
}

func TestCheckReadOnlyAllowsWrites(t *testing.T) {
	cfg := &config.Loaded{Config: config.Config{ReadOnly: boolPtr(false)}}
	inv := config.Inverter{}

	if err := checkReadOnly(cfg, inv); err != nil {
		t.Fatalf("unexpected refusal: %v", err)
	}
}
