// Package register implements the schema-driven register decoder: loading
// JSON register definitions, decoding raw 16-bit words into named scaled
// values, and composing the six input-register pages into a full telemetry
// snapshot.
package register

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Register is one schema entry: a single addressable 16-bit word with its
// name, datatype, scaling factor, and unit.
type Register struct {
	Number      uint16  `json:"register_number"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	DataType    string  `json:"datatype"`
	Access      string  `json:"access"`
	Scaling     float64 `json:"scaling"`
	Unit        string  `json:"unit"`
	ShortName   string  `json:"shortname"`
	ReadOnly    bool    `json:"read_only"`
}

// FieldName is the shortname when present, falling back to name.
func (r Register) FieldName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.Name
}

// DecodeValue interprets a hex word string, scaling it when the register's
// datatype is "float"; other datatypes are returned as the raw integer
// value.
func (r Register) DecodeValue(hexWord string) float64 {
	word, err := strconv.ParseUint(hexWord, 16, 16)
	if err != nil {
		return 0
	}
	if r.DataType == "float" {
		return float64(word) * r.Scaling
	}
	return float64(word)
}

type registerType struct {
	RegisterType string     `json:"register_type"`
	RegisterMap  []Register `json:"register_map"`
}

type registerMapDoc struct {
	Registers []registerType `json:"registers"`
}

// Schema is a loaded, validated set of register definitions indexed by
// register number.
type Schema struct {
	byNumber map[uint16]Register
}

// Load parses a JSON register-definition file, applies field defaults, and
// validates global uniqueness constraints. All duplicate violations are
// collected before returning a single combined error, so a maintainer can
// fix every conflict in one pass.
func Load(path string) (*Schema, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("register: reading %s: %w", path, err)
	}

	lineOf := lineNumberIndex(content)

	var doc registerMapDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("register: parsing %s: %w", path, err)
	}

	for ti := range doc.Registers {
		for ri := range doc.Registers[ti].RegisterMap {
			reg := &doc.Registers[ti].RegisterMap[ri]
			if reg.Scaling == 0 {
				reg.Scaling = 1.0
			}
			if reg.Access == "" {
				if reg.ReadOnly {
					reg.Access = "read_only"
				} else {
					reg.Access = "read_write"
				}
			}
		}
	}

	byNumber := make(map[uint16]Register)
	shortnames := make(map[string]shortnameOwner)
	var duplicates []string

	for _, rt := range doc.Registers {
		typeRegisters := make(map[uint16]Register)
		for _, reg := range rt.RegisterMap {
			line := lineOf(fmt.Sprintf(`"register_number":%d`, reg.Number))

			if existing, ok := typeRegisters[reg.Number]; ok {
				duplicates = append(duplicates, fmt.Sprintf(
					"register number %d is defined multiple times in type %q:\n  - first: %s (%s)\n  - second: %s (%s) at line %d",
					reg.Number, rt.RegisterType, existing.Description, existing.ShortName, reg.Description, reg.ShortName, line))
			} else {
				typeRegisters[reg.Number] = reg
			}

			name := reg.FieldName()
			if owner, ok := shortnames[name]; ok {
				duplicates = append(duplicates, fmt.Sprintf(
					"shortname %q is used multiple times:\n  - first: register %d in type %q at line %d\n  - second: register %d in type %q at line %d",
					name, owner.register, owner.registerType, owner.line, reg.Number, rt.RegisterType, line))
			} else {
				shortnames[name] = shortnameOwner{registerType: rt.RegisterType, register: reg.Number, line: line}
			}
		}
		for num, reg := range typeRegisters {
			byNumber[num] = reg
		}
	}

	if len(duplicates) > 0 {
		return nil, fmt.Errorf("register: found %d duplicate register definitions:\n%s",
			len(duplicates), strings.Join(duplicates, "\n"))
	}

	return &Schema{byNumber: byNumber}, nil
}

type shortnameOwner struct {
	registerType string
	register     uint16
	line         int
}

// Get returns the schema entry for a register number, if known.
func (s *Schema) Get(number uint16) (Register, bool) {
	r, ok := s.byNumber[number]
	return r, ok
}

// Decode consumes a map of register number (as decimal string) to raw hex
// word, producing a map of field name to decoded value. Unknown registers
// are skipped unless showUnknown is set, in which case they are emitted as
// "<registerType>_unknown_<n>".
func (s *Schema) Decode(raw map[string]string, showUnknown bool, registerType string) map[string]float64 {
	decoded := make(map[string]float64, len(raw))
	for numStr, hexWord := range raw {
		num, err := strconv.ParseUint(numStr, 10, 16)
		if err != nil {
			continue
		}
		if reg, ok := s.Get(uint16(num)); ok {
			decoded[reg.FieldName()] = reg.DecodeValue(hexWord)
		} else if showUnknown {
			word, _ := strconv.ParseUint(hexWord, 16, 16)
			decoded[fmt.Sprintf("%s_unknown_%d", registerType, num)] = float64(word)
		}
	}
	return decoded
}

// lineNumberIndex returns a function that finds the 1-based source line on
// which a substring first occurs, used to attach line numbers to schema
// validation errors.
func lineNumberIndex(content []byte) func(substr string) int {
	text := string(content)
	return func(substr string) int {
		pos := strings.Index(text, substr)
		if pos < 0 {
			return 0
		}
		return strings.Count(text[:pos], "\n") + 1
	}
}
