package register

import (
	"testing"

	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// TestComposeDerivedValues exercises the composed-snapshot scenario: six
// input-register pages yielding soc=50, p_pv_1/2/3=100/200/300,
// p_to_user=500, p_to_grid=100, p_charge=400, p_discharge=50 must compose
// into p_pv=600, p_grid=400, p_battery=350.
func TestComposeDerivedValues(t *testing.T) {
	datalog, err := serial.FromText("DATALOG001")
	if err != nil {
		t.Fatalf("datalog: %v", err)
	}

	page0 := map[uint16]uint16{
		5:  50,   // soc
		8:  100,  // p_pv_1
		9:  200,  // p_pv_2
		10: 300,  // p_pv_3
		11: 400,  // p_charge
		12: 50,   // p_discharge
		16: 5000, // f_ac = 50.00
		24: 5000, // f_eps = 50.00
		27: 100,  // p_to_grid
		28: 500,  // p_to_user
	}

	a := NewAccumulator(datalog)
	done, err := a.AddPage(0, page0)
	if err != nil {
		t.Fatalf("AddPage(0): %v", err)
	}
	if done {
		t.Fatalf("expected more pages to be required")
	}
	for _, offset := range []uint16{40, 80, 120, 160, 200} {
		done, err = a.AddPage(offset, map[uint16]uint16{})
		if err != nil {
			t.Fatalf("AddPage(%d): %v", offset, err)
		}
	}
	if !done {
		t.Fatalf("expected all six pages to be seen")
	}

	snap, err := a.Compose()
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	if snap.SOC != 50 {
		t.Errorf("soc = %d, want 50", snap.SOC)
	}
	if snap.PPV != 600 {
		t.Errorf("p_pv = %d, want 600", snap.PPV)
	}
	if snap.PGrid != 400 {
		t.Errorf("p_grid = %v, want 400", snap.PGrid)
	}
	if snap.PBattery != 350 {
		t.Errorf("p_battery = %v, want 350", snap.PBattery)
	}
}

func TestComposeRejectsOutOfRangeSOC(t *testing.T) {
	datalog, _ := serial.FromText("DATALOG001")
	a := NewAccumulator(datalog)
	page0 := map[uint16]uint16{
		5:  150, // soc out of [0,100]
		16: 5000,
		24: 5000,
	}
	a.AddPage(0, page0)
	for _, offset := range []uint16{40, 80, 120, 160, 200} {
		a.AddPage(offset, map[uint16]uint16{})
	}
	if _, err := a.Compose(); err == nil {
		t.Fatalf("expected Compose to reject soc=150")
	}
}

func TestAddPageRejectsUnalignedOffset(t *testing.T) {
	datalog, _ := serial.FromText("DATALOG001")
	a := NewAccumulator(datalog)
	if _, err := a.AddPage(7, map[uint16]uint16{}); err == nil {
		t.Fatalf("expected AddPage to reject a non-page-aligned offset")
	}
}
