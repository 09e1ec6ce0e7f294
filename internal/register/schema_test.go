package register

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registers.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing schema fixture: %v", err)
	}
	return path
}

func TestLoadDecodesScaledFloat(t *testing.T) {
	path := writeSchemaFile(t, `{
		"registers": [
			{
				"register_type": "input",
				"register_map": [
					{"register_number": 16, "name": "AC Frequency", "shortname": "f_ac", "datatype": "float", "scaling": 0.01}
				]
			}
		]
	}`)

	schema, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reg, ok := schema.Get(16)
	if !ok {
		t.Fatalf("expected register 16 to be defined")
	}
	if got := reg.DecodeValue("1388"); got != 50.0 {
		t.Errorf("DecodeValue(0x1388) = %v, want 50.0", got)
	}
}

func TestLoadRejectsDuplicateRegisterNumber(t *testing.T) {
	path := writeSchemaFile(t, `{
		"registers": [
			{
				"register_type": "input",
				"register_map": [
					{"register_number": 5, "name": "SOC", "shortname": "soc"},
					{"register_number": 5, "name": "State of Charge", "shortname": "soc_dup"}
				]
			}
		]
	}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a duplicate register number")
	}
}

func TestLoadRejectsDuplicateShortname(t *testing.T) {
	path := writeSchemaFile(t, `{
		"registers": [
			{
				"register_type": "input",
				"register_map": [
					{"register_number": 5, "name": "SOC", "shortname": "soc"}
				]
			},
			{
				"register_type": "hold",
				"register_map": [
					{"register_number": 21, "name": "Some Flags", "shortname": "soc"}
				]
			}
		]
	}`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject a duplicate shortname across register types")
	}
}
