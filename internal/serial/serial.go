// Package serial implements the fixed-width 10-character identifier used for
// both datalog (gateway) and inverter serials on the wire.
package serial

import "fmt"

// Len is the exact byte length of a wire serial.
const Len = 10

// Serial is a 10-byte printable identifier. Two disjoint roles share this
// type: the datalog serial (the physical gateway, used at the transport
// layer) and the inverter serial (used inside translated-data frames).
type Serial [Len]byte

// Zero is the empty serial, used as a placeholder before a value is known.
var Zero Serial

// FromText builds a Serial from exactly 10 ASCII characters.
func FromText(s string) (Serial, error) {
	var out Serial
	if len(s) != Len {
		return out, fmt.Errorf("serial: %q is not exactly %d characters", s, Len)
	}
	copy(out[:], s)
	return out, nil
}

// FromBytes builds a Serial from exactly 10 raw bytes.
func FromBytes(b []byte) (Serial, error) {
	var out Serial
	if len(b) != Len {
		return out, fmt.Errorf("serial: expected %d bytes, got %d", Len, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// String renders the serial as raw text.
func (s Serial) String() string {
	return string(s[:])
}

// Bytes returns the serial's 10 raw bytes.
func (s Serial) Bytes() []byte {
	return s[:]
}

// IsZero reports whether the serial has never been set.
func (s Serial) IsZero() bool {
	return s == Zero
}

// Less provides a total order, used only for deterministic iteration/logging.
func (s Serial) Less(other Serial) bool {
	return s.String() < other.String()
}
