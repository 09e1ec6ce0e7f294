package command

import (
	"context"
	"fmt"
	"time"

	"github.com/lachlan2k/eg4-bridge/internal/config"
	"github.com/lachlan2k/eg4-bridge/internal/frame"
	"github.com/lachlan2k/eg4-bridge/internal/register"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// blockSize is the inverter's fixed register-block width: a single read may
// never cross a block boundary, matching validate_register_block_boundary
// in the source's coordinator commands.
const blockSize = 40

// validateBlockBoundary rejects a read that would straddle two 40-register
// blocks, or that asks for more than the remaining registers in one block.
func validateBlockBoundary(registerNum uint16, count uint16) error {
	if count == 0 {
		return fmt.Errorf("command: register count must be at least 1")
	}
	startBlock := registerNum / blockSize
	endBlock := (registerNum + count - 1) / blockSize
	if startBlock != endBlock {
		return fmt.Errorf("command: read of %d registers from %d crosses block boundary (block %d -> block %d)",
			count, registerNum, startBlock, endBlock)
	}
	maxCount := blockSize - (registerNum % blockSize)
	if count > maxCount {
		return fmt.Errorf("command: cannot read %d registers starting at %d, block allows at most %d", count, registerNum, maxCount)
	}
	return nil
}

func readValues(ctx context.Context, eng *Engine, datalog, inverter serial.Serial, fn frame.DeviceFunction, registerNum, count uint16) (frame.TranslatedData, error) {
	req := frame.TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: fn,
		InverterSerial: inverter,
		Register:       registerNum,
		Values:         []byte{byte(count), 0},
	}
	reply, err := eng.Send(ctx, datalog, req)
	if err != nil {
		return frame.TranslatedData{}, err
	}
	td, ok := reply.(frame.TranslatedData)
	if !ok {
		return frame.TranslatedData{}, fmt.Errorf("command: unexpected reply kind %T", reply)
	}
	return td, nil
}

// ReadHold reads count holding registers starting at registerNum.
func ReadHold(ctx context.Context, eng *Engine, datalog, inverter serial.Serial, registerNum, count uint16) (frame.TranslatedData, error) {
	if err := validateBlockBoundary(registerNum, count); err != nil {
		return frame.TranslatedData{}, err
	}
	return readValues(ctx, eng, datalog, inverter, frame.ReadHold, registerNum, count)
}

// ReadInput reads count input registers starting at registerNum.
func ReadInput(ctx context.Context, eng *Engine, datalog, inverter serial.Serial, registerNum, count uint16) (frame.TranslatedData, error) {
	if err := validateBlockBoundary(registerNum, count); err != nil {
		return frame.TranslatedData{}, err
	}
	return readValues(ctx, eng, datalog, inverter, frame.ReadInput, registerNum, count)
}

// ReadParam reads one opaque parameter register, addressed only by datalog.
func ReadParam(ctx context.Context, eng *Engine, datalog serial.Serial, registerNum uint16) (frame.ReadParam, error) {
	req := frame.ReadParam{DatalogSerial: datalog, Register: registerNum}
	reply, err := eng.Send(ctx, datalog, req)
	if err != nil {
		return frame.ReadParam{}, err
	}
	rp, ok := reply.(frame.ReadParam)
	if !ok {
		return frame.ReadParam{}, fmt.Errorf("command: unexpected reply kind %T", reply)
	}
	return rp, nil
}

func checkReadOnly(cfg *config.Loaded, inv config.Inverter) error {
	if cfg.IsReadOnly() || inv.IsReadOnly() {
		return fmt.Errorf("command: refused, bridge or inverter is configured read-only")
	}
	return nil
}

// SetHold writes a single holding register and verifies the inverter's reply
// echoes the value actually written.
func SetHold(ctx context.Context, eng *Engine, cfg *config.Loaded, inv config.Inverter, datalog, inverter serial.Serial, registerNum, value uint16) error {
	if err := checkReadOnly(cfg, inv); err != nil {
		return err
	}
	req := frame.TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: frame.WriteSingle,
		InverterSerial: inverter,
		Register:       registerNum,
		Values:         []byte{byte(value), byte(value >> 8)},
	}
	reply, err := eng.Send(ctx, datalog, req)
	if err != nil {
		return err
	}
	td, ok := reply.(frame.TranslatedData)
	if !ok {
		return fmt.Errorf("command: unexpected reply kind %T", reply)
	}
	if td.Value() != value {
		return fmt.Errorf("command: set_hold register %d: wrote %d, inverter echoed %d", registerNum, value, td.Value())
	}
	return nil
}

// WriteParam writes an opaque parameter register. The inverter's reply value
// is 0 on success; any other value is a failure, an intentionally-preserved
// quirk of the source protocol.
func WriteParam(ctx context.Context, eng *Engine, cfg *config.Loaded, inv config.Inverter, datalog serial.Serial, registerNum, value uint16) error {
	if err := checkReadOnly(cfg, inv); err != nil {
		return err
	}
	req := frame.WriteParam{
		DatalogSerial: datalog,
		Register:      registerNum,
		Values:        []byte{byte(value), byte(value >> 8)},
	}
	reply, err := eng.Send(ctx, datalog, req)
	if err != nil {
		return err
	}
	wp, ok := reply.(frame.WriteParam)
	if !ok {
		return fmt.Errorf("command: unexpected reply kind %T", reply)
	}
	if wp.Value() != 0 {
		return fmt.Errorf("command: write_param register %d rejected, inverter replied %d", registerNum, wp.Value())
	}
	return nil
}

// UpdateHold performs a read-modify-write-verify on one bit of a holding
// register: read the current word, set or clear bit, write it back via
// SetHold (which already verifies the echo), matching update_hold.rs.
func UpdateHold(ctx context.Context, eng *Engine, cfg *config.Loaded, inv config.Inverter, datalog, inverter serial.Serial, registerNum uint16, bit register.RegisterBit, enable bool) error {
	current, err := ReadHold(ctx, eng, datalog, inverter, registerNum, 1)
	if err != nil {
		return fmt.Errorf("command: update_hold read current value: %w", err)
	}
	cur := current.Value()
	var next uint16
	if enable {
		next = cur | uint16(bit)
	} else {
		next = cur &^ uint16(bit)
	}
	if next == cur {
		return nil
	}
	return SetHold(ctx, eng, cfg, inv, datalog, inverter, registerNum, next)
}

// timeSyncHoldRegister is holding register 12, which packs YY MM DD HH MM SS
// as six bytes across three u16 words.
const timeSyncHoldRegister = 12

const (
	timeSyncMinDrift = 30 * time.Second
	timeSyncMaxDrift = 600 * time.Second
)

// TimeSync reads the inverter's clock (assumed UTC) and corrects it if the
// drift against the bridge's clock is more than 30s but no more than 600s;
// a larger drift is logged but left alone rather than silently stepped,
// matching timesync.rs.
func TimeSync(ctx context.Context, eng *Engine, datalog, inverter serial.Serial, now time.Time) (wrote bool, drift time.Duration, err error) {
	reply, err := ReadHold(ctx, eng, datalog, inverter, timeSyncHoldRegister, 3)
	if err != nil {
		return false, 0, fmt.Errorf("command: time_sync read: %w", err)
	}
	pairs := reply.Pairs()
	yymm := pairs[timeSyncHoldRegister]
	ddhh := pairs[timeSyncHoldRegister+1]
	mmss := pairs[timeSyncHoldRegister+2]

	year := 2000 + int(yymm&0xFF)
	month := int((yymm >> 8) & 0xFF)
	day := int(ddhh & 0xFF)
	hour := int((ddhh >> 8) & 0xFF)
	minute := int(mmss & 0xFF)
	second := int((mmss >> 8) & 0xFF)

	inverterTime := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	nowUTC := now.UTC()
	drift = nowUTC.Sub(inverterTime)
	if drift < 0 {
		drift = -drift
	}

	if drift <= timeSyncMinDrift {
		return false, drift, nil
	}
	if drift > timeSyncMaxDrift {
		return false, drift, fmt.Errorf("command: time_sync drift %s exceeds %s, refusing to auto-correct", drift, timeSyncMaxDrift)
	}

	y := nowUTC.Year() - 2000
	m := int(nowUTC.Month())
	d := nowUTC.Day()
	h := nowUTC.Hour()
	mi := nowUTC.Minute()
	s := nowUTC.Second()

	values := []byte{
		byte(y), byte(m),
		byte(d), byte(h),
		byte(mi), byte(s),
	}
	req := frame.TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: frame.WriteMulti,
		InverterSerial: inverter,
		Register:       timeSyncHoldRegister,
		Values:         values,
	}
	if _, err := eng.Send(ctx, datalog, req); err != nil {
		return false, drift, fmt.Errorf("command: time_sync write: %w", err)
	}
	return true, drift, nil
}

// TimeSlotAction names a schedulable action family; each has three
// (start, end) time slots addressed by index 1-3.
type TimeSlotAction int

const (
	ActionAcCharge TimeSlotAction = iota
	ActionAcFirst
	ActionChargePriority
	ActionForcedDischarge
)

// timeSlotBaseRegister returns the holding register backing slot 1 of an
// action family. Each slot occupies 2 consecutive registers (start
// hour/minute, end hour/minute), so slots 2 and 3 follow at +2 and +4.
func timeSlotBaseRegister(action TimeSlotAction) (uint16, error) {
	switch action {
	case ActionAcCharge:
		return 68, nil
	case ActionAcFirst:
		return 74, nil
	case ActionChargePriority:
		return 80, nil
	case ActionForcedDischarge:
		return 86, nil
	default:
		return 0, fmt.Errorf("command: unknown time slot action %d", action)
	}
}

// TimeSlot is a (start, end) pair packed into a 2-word time slot as
// start_hour, start_minute, end_hour, end_minute across four bytes.
type TimeSlot struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// ReadTimeRegister reads one indexed (1-3) time slot for an action family.
func ReadTimeRegister(ctx context.Context, eng *Engine, datalog, inverter serial.Serial, action TimeSlotAction, index int) (TimeSlot, error) {
	base, err := timeSlotBaseRegister(action)
	if err != nil {
		return TimeSlot{}, err
	}
	if index < 1 || index > 3 {
		return TimeSlot{}, fmt.Errorf("command: time slot index %d out of range [1,3]", index)
	}
	slotBase := base + uint16(index-1)*2
	reply, err := ReadHold(ctx, eng, datalog, inverter, slotBase, 2)
	if err != nil {
		return TimeSlot{}, err
	}
	pairs := reply.Pairs()
	start := pairs[slotBase]
	end := pairs[slotBase+1]
	return TimeSlot{
		StartHour:   int(start & 0xFF),
		StartMinute: int((start >> 8) & 0xFF),
		EndHour:     int(end & 0xFF),
		EndMinute:   int((end >> 8) & 0xFF),
	}, nil
}

// SetTimeRegister writes one indexed (1-3) time slot for an action family as
// a 2-register multi-write, since SetHold only ever writes a single register.
func SetTimeRegister(ctx context.Context, eng *Engine, cfg *config.Loaded, inv config.Inverter, datalog, inverter serial.Serial, action TimeSlotAction, index int, slot TimeSlot) error {
	if err := checkReadOnly(cfg, inv); err != nil {
		return err
	}
	base, err := timeSlotBaseRegister(action)
	if err != nil {
		return err
	}
	if index < 1 || index > 3 {
		return fmt.Errorf("command: time slot index %d out of range [1,3]", index)
	}
	slotBase := base + uint16(index-1)*2

	req := frame.TranslatedData{
		DatalogSerial:  datalog,
		DeviceFunction: frame.WriteMulti,
		InverterSerial: inverter,
		Register:       slotBase,
		Values: []byte{
			byte(slot.StartHour), byte(slot.StartMinute),
			byte(slot.EndHour), byte(slot.EndMinute),
		},
	}
	reply, err := eng.Send(ctx, datalog, req)
	if err != nil {
		return err
	}
	td, ok := reply.(frame.TranslatedData)
	if !ok {
		return fmt.Errorf("command: unexpected reply kind %T", reply)
	}
	pairs := td.Pairs()
	if pairs[slotBase] != uint16(slot.StartHour)|uint16(slot.StartMinute)<<8 ||
		pairs[slotBase+1] != uint16(slot.EndHour)|uint16(slot.EndMinute)<<8 {
		return fmt.Errorf("command: set_time_register slot %d: inverter echo did not match written values", index)
	}
	return nil
}
