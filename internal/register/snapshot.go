package register

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// PageSize is the width of one input-register page.
const PageSize = 40

// PageCount is the number of pages composing a full telemetry snapshot.
const PageCount = 6

// Snapshot is the composed telemetry view assembled once all six input
// register pages (offsets 0, 40, 80, 120, 160, 200) have been gathered for
// one datalog. Field names and the 68-column set (Status..VBatInv plus
// Datalog) mirror the SQL sink's persisted row exactly.
type Snapshot struct {
	Datalog serial.Serial

	Status        int64
	VPV1          int64
	VPV2          int64
	VPV3          int64
	VBat          int64
	SOC           int64
	SOH           int64
	InternalFault int64
	PPV           int64
	PPV1          int64
	PPV2          int64
	PPV3          int64
	PBattery      float64
	PCharge       int64
	PDischarge    int64
	VACR          int64
	VACS          int64
	VACT          int64
	FAC           float64
	PInv          int64
	PRec          int64
	PF            float64
	VEPSR         int64
	VEPSS         int64
	VEPST         int64
	FEPS          float64
	PEPS          int64
	SEPS          int64
	PGrid         float64
	PToGrid       int64
	PToUser       int64

	EPVDay  int64
	EPVDay1 int64
	EPVDay2 int64
	EPVDay3 int64

	EInvDay     int64
	ERecDay     int64
	EChgDay     int64
	EDischgDay  int64
	EEPSDay     int64
	EToGridDay  int64
	EToUserDay  int64
	VBus1       int64
	VBus2       int64
	EPVAll      int64
	EPVAll1     int64
	EPVAll2     int64
	EPVAll3     int64
	EInvAll     int64
	ERecAll     int64
	EChgAll     int64
	EDischgAll  int64
	EEPSAll     int64
	EToGridAll  int64
	EToUserAll  int64
	FaultCode   int64
	WarningCode int64
	TInner      float64
	TRad1       float64
	TRad2       float64
	TBat        float64
	Runtime     int64
	BMSEvent1   int64
	BMSEvent2   int64

	BMSFWUpdateState int64
	CycleCount       int64
	VBatInv          int64

	// Validate-only fields: required by the validation invariants but not
	// part of the persisted SQL row.
	VGen           float64
	FGen           float64
	PGen           float64
	GenPowerFactor float64
	GenCurrent     float64
	VBusHalf       int64
}

// Accumulator gathers the six input-register pages for one datalog until a
// full Snapshot can be composed. The coordinator discards it once Compose
// has run, whether or not the snapshot passed validation.
type Accumulator struct {
	words     [PageCount * PageSize]uint16
	pagesSeen uint8
	datalog   serial.Serial
}

// NewAccumulator returns an empty per-datalog page accumulator.
func NewAccumulator(datalog serial.Serial) *Accumulator {
	return &Accumulator{datalog: datalog}
}

// AddPage records one 40-word input-register page. register must be a
// page-aligned offset (0, 40, 80, 120, 160, or 200). It reports whether all
// six pages have now been seen.
func (a *Accumulator) AddPage(register uint16, words map[uint16]uint16) (bool, error) {
	if register%PageSize != 0 || register >= PageCount*PageSize {
		return false, fmt.Errorf("register: %d is not a recognized input page start", register)
	}
	page := register / PageSize
	for reg, word := range words {
		if reg < register || reg >= register+PageSize {
			continue
		}
		a.words[reg] = word
	}
	a.pagesSeen |= 1 << page
	return a.pagesSeen == (1<<PageCount)-1, nil
}

func (a *Accumulator) word(reg uint16) uint16 {
	return a.words[reg]
}

func (a *Accumulator) u32(loReg uint16) uint32 {
	lo := uint32(a.word(loReg))
	hi := uint32(a.word(loReg + 1))
	return lo | (hi << 16)
}

// Compose builds a full Snapshot from the accumulated page words, then
// computes derived fields and validates the result. Compose should only be
// called once AddPage has reported all six pages gathered.
func (a *Accumulator) Compose() (*Snapshot, error) {
	s := &Snapshot{
		Datalog:       a.datalog,
		Status:        int64(a.word(0)),
		VPV1:          int64(a.word(1)),
		VPV2:          int64(a.word(2)),
		VPV3:          int64(a.word(3)),
		VBat:          int64(a.word(4)),
		SOC:           int64(a.word(5)),
		SOH:           int64(a.word(6)),
		InternalFault: int64(a.word(7)),
		PPV1:          int64(a.word(8)),
		PPV2:          int64(a.word(9)),
		PPV3:          int64(a.word(10)),
		PCharge:       int64(a.word(11)),
		PDischarge:    int64(a.word(12)),
		VACR:          int64(a.word(13)),
		VACS:          int64(a.word(14)),
		VACT:          int64(a.word(15)),
		FAC:           float64(a.word(16)) * 0.01,
		PInv:          int64(a.word(17)),
		PRec:          int64(a.word(18)),
		PF:            float64(a.word(19)) * 0.01,
		VEPSR:         int64(a.word(20)),
		VEPSS:         int64(a.word(22)),
		VEPST:         int64(a.word(23)),
		FEPS:          float64(a.word(24)) * 0.01,
		PEPS:          int64(a.word(25)),
		SEPS:          int64(a.word(26)),
		PToGrid:       int64(a.word(27)),
		PToUser:       int64(a.word(28)),
		EPVDay1:       int64(a.word(29)),
		EPVDay2:       int64(a.word(30)),
		EPVDay3:       int64(a.word(31)),
		EInvDay:       int64(a.word(32)),
		ERecDay:       int64(a.word(33)),
		EChgDay:       int64(a.word(34)),
		EDischgDay:    int64(a.word(35)),
		EEPSDay:       int64(a.word(36)),
		EToGridDay:    int64(a.word(37)),
		EToUserDay:    int64(a.word(38)),
		VBus1:         int64(a.word(39)),

		VBus2:            int64(a.word(40)),
		EPVAll1:          int64(a.word(41)),
		EPVAll2:          int64(a.word(42)),
		EPVAll3:          int64(a.word(43)),
		EInvAll:          int64(a.word(44)),
		ERecAll:          int64(a.word(45)),
		EChgAll:          int64(a.word(46)),
		EDischgAll:       int64(a.word(47)),
		EEPSAll:          int64(a.word(48)),
		EToGridAll:       int64(a.word(49)),
		EToUserAll:       int64(a.word(50)),
		TInner:           float64(a.word(51)) * 0.1,
		TRad1:            float64(a.word(52)) * 0.1,
		TRad2:            float64(a.word(53)) * 0.1,
		TBat:             float64(a.word(54)) * 0.1,
		Runtime:          int64(a.u32(55)),
		BMSEvent1:        int64(a.word(57)),
		BMSEvent2:        int64(a.word(58)),
		BMSFWUpdateState: int64(a.word(59)),
		FaultCode:        int64(a.u32(60)),
		WarningCode:      int64(a.u32(62)),
		CycleCount:       int64(a.word(64)),
		VBatInv:          int64(a.word(65)),

		VGen:           float64(a.word(80)) * 0.1,
		FGen:           float64(a.word(81)) * 0.01,
		PGen:           float64(a.word(82)),
		GenPowerFactor: float64(a.word(83)) * 0.001,
		GenCurrent:     float64(a.word(84)) * 0.1,
		VBusHalf:       int64(a.word(85)),
	}

	if err := s.calculateDerivedValues(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// calculateDerivedValues fills in the fields that are sums/differences of
// other fields, rejecting overflow rather than silently wrapping.
func (s *Snapshot) calculateDerivedValues() error {
	ppv, err := checkedAdd(s.PPV1, s.PPV2, s.PPV3)
	if err != nil {
		return fmt.Errorf("register: p_pv overflow: %w", err)
	}
	s.PPV = ppv

	pBattery, err := checkedSub(s.PCharge, s.PDischarge)
	if err != nil {
		return fmt.Errorf("register: p_battery overflow: %w", err)
	}
	s.PBattery = float64(pBattery)

	pGrid, err := checkedSub(s.PToUser, s.PToGrid)
	if err != nil {
		return fmt.Errorf("register: p_grid overflow: %w", err)
	}
	s.PGrid = float64(pGrid)

	ePVDay, err := checkedAdd(s.EPVDay1, s.EPVDay2, s.EPVDay3)
	if err != nil {
		return fmt.Errorf("register: e_pv_day overflow: %w", err)
	}
	s.EPVDay = ePVDay

	ePVAll, err := checkedAdd(s.EPVAll1, s.EPVAll2, s.EPVAll3)
	if err != nil {
		return fmt.Errorf("register: e_pv_all overflow: %w", err)
	}
	s.EPVAll = ePVAll

	return nil
}

// checkedAdd sums any signed integer type, rejecting overflow instead of
// silently wrapping, the Go-generic stand-in for Rust's checked_add used
// throughout the derived-value formulas in the original source.
func checkedAdd[T constraints.Signed](values ...T) (T, error) {
	var sum T
	for _, v := range values {
		next := sum + v
		if (v > 0 && next < sum) || (v < 0 && next > sum) {
			return 0, fmt.Errorf("overflow summing %v", values)
		}
		sum = next
	}
	return sum, nil
}

// checkedSub is checked_sub's stand-in, used for the p_battery/p_grid
// derived-value subtractions.
func checkedSub[T constraints.Signed](a, b T) (T, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, fmt.Errorf("overflow subtracting %v from %v", b, a)
	}
	return diff, nil
}

// Validate rejects a snapshot that violates the telemetry invariants. A
// rejected snapshot is simply dropped by the caller; it never interrupts
// the stream.
func (s *Snapshot) Validate() error {
	if s.SOC < 0 || s.SOC > 100 {
		return fmt.Errorf("register: soc %d out of range [0,100]", s.SOC)
	}
	if s.SOH < 0 || s.SOH > 100 {
		return fmt.Errorf("register: soh %d out of range [0,100]", s.SOH)
	}
	for i, p := range []int64{s.PPV1, s.PPV2, s.PPV3} {
		if p > 10000 {
			return fmt.Errorf("register: p_pv_%d %d exceeds 10000", i+1, p)
		}
	}
	if s.FAC < 45.0 || s.FAC > 65.0 {
		return fmt.Errorf("register: f_ac %.2f out of range [45,65]", s.FAC)
	}
	if s.FEPS < 45.0 || s.FEPS > 65.0 {
		return fmt.Errorf("register: f_eps %.2f out of range [45,65]", s.FEPS)
	}
	if s.FGen != 0 && (s.FGen < 45.0 || s.FGen > 65.0) {
		return fmt.Errorf("register: f_gen %.2f out of range [45,65]", s.FGen)
	}
	if s.VGen > 0 && (s.VGen < 180 || s.VGen > 270) {
		return fmt.Errorf("register: v_gen %.1f out of range [180,270]", s.VGen)
	}
	if s.PGen > 10000 {
		return fmt.Errorf("register: p_gen %.1f exceeds 10000", s.PGen)
	}
	if s.GenPowerFactor > 1000 {
		return fmt.Errorf("register: gen_power_factor %.1f exceeds 1000", s.GenPowerFactor)
	}
	if s.GenCurrent > 100 {
		return fmt.Errorf("register: gen_current %.1f exceeds 100", s.GenCurrent)
	}
	if s.VBusHalf > 1000 {
		return fmt.Errorf("register: v_bus_half %d exceeds 1000", s.VBusHalf)
	}
	if math.IsNaN(s.PBattery) || math.IsNaN(s.PGrid) {
		return fmt.Errorf("register: derived power value is NaN")
	}
	return nil
}
