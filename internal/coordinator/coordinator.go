// Package coordinator implements the bridge's dispatch loop: it turns
// decoded inverter frames into bus publications and composed telemetry
// snapshots, and turns incoming bus commands into command-engine calls.
// Grounded on the teacher's agent.go top-level wiring loop, generalized
// from a single MQTT<->Modbus pairing to many inverters behind a shared
// channel mesh.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lachlan2k/eg4-bridge/internal/cache"
	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/command"
	"github.com/lachlan2k/eg4-bridge/internal/config"
	"github.com/lachlan2k/eg4-bridge/internal/frame"
	"github.com/lachlan2k/eg4-bridge/internal/register"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
	"github.com/lachlan2k/eg4-bridge/internal/stats"
)

// registerFeatureFlags is hold register 21, the 16-bit feature-enable word
// that backs the boolean set/{ac_charge|charge_priority|forced_discharge}
// bus commands.
const registerFeatureFlags = 21

// Percentage-rate and SOC-limit holding registers. The original source's
// command.rs enumerates these setters (ChargeRate, DischargeRate,
// AcChargeRate, AcChargeSocLimit, DischargeCutoffSocLimit) carrying only a
// raw u16 value, without ever assigning them concrete register numbers (the
// command bodies in coordinator/commands/*.rs are unimplemented stubs).
// These addresses are chosen to sit alongside the time-slot registers and
// are recorded as an open-question resolution in DESIGN.md.
const (
	registerChargeRatePct              = 64
	registerDischargeRatePct           = 65
	registerAcChargeRatePct            = 66
	registerAcChargeSocLimitPct        = 67
	registerDischargeCutoffSocLimitPct = 105
)

// inverterEntry is everything the coordinator needs to act on behalf of one
// configured inverter once its datalog has been identified on the wire.
type inverterEntry struct {
	cfg            config.Inverter
	datalog        serial.Serial
	inverterSerial serial.Serial
}

// Coordinator owns the dispatch loop: a single goroutine draining both
// from_inverter and from_bus.
type Coordinator struct {
	cfg    *config.Loaded
	mesh   *channels.Mesh
	engine *command.Engine
	schema *register.Schema
	stats  *stats.Stats
	log    *slog.Logger

	mu           sync.Mutex
	inverters    map[string]inverterEntry
	accumulators map[string]*register.Accumulator
	caches       map[string]*cache.Cache
}

// New builds a Coordinator for the given configuration and schema.
func New(cfg *config.Loaded, mesh *channels.Mesh, engine *command.Engine, schema *register.Schema, st *stats.Stats, log *slog.Logger) (*Coordinator, error) {
	c := &Coordinator{
		cfg:          cfg,
		mesh:         mesh,
		engine:       engine,
		schema:       schema,
		stats:        st,
		log:          log,
		inverters:    make(map[string]inverterEntry),
		accumulators: make(map[string]*register.Accumulator),
		caches:       make(map[string]*cache.Cache),
	}
	for _, inv := range cfg.Inverters {
		if !inv.IsEnabled() {
			continue
		}
		datalog, err := inv.Datalog()
		if err != nil {
			return nil, fmt.Errorf("coordinator: inverter datalog: %w", err)
		}
		invSerial, err := inv.Serial()
		if err != nil {
			return nil, fmt.Errorf("coordinator: inverter serial: %w", err)
		}
		c.inverters[datalog.String()] = inverterEntry{cfg: inv, datalog: datalog, inverterSerial: invSerial}
	}
	return c, nil
}

// Run drains from_inverter and from_bus until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	invSub, cancelInv := c.mesh.FromInverter.Subscribe()
	defer cancelInv()
	busSub, cancelBus := c.mesh.FromBus.Subscribe()
	defer cancelBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-invSub.C:
			if !ok {
				return nil
			}
			c.handleInverterEvent(ctx, ev)
		case cmd, ok := <-busSub.C:
			if !ok {
				return nil
			}
			c.handleBusCommand(ctx, cmd)
		}
	}
}

func (c *Coordinator) entry(datalog serial.Serial) (inverterEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.inverters[datalog.String()]
	return e, ok
}

// cacheFor returns the per-datalog last-known-register cache, creating it on
// first use. The cache outlives individual connections: a reconnect does not
// lose what was last observed.
func (c *Coordinator) cacheFor(datalog serial.Serial) *cache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	cc, ok := c.caches[datalog.String()]
	if !ok {
		cc = cache.New()
		c.caches[datalog.String()] = cc
	}
	return cc
}

func (c *Coordinator) handleInverterEvent(ctx context.Context, ev channels.InverterEvent) {
	switch ev.Kind {
	case channels.EventConnected:
		c.log.Info("inverter connected", "datalog", ev.Datalog)
		entry, ok := c.entry(ev.Datalog)
		if ok && entry.cfg.WantsHoldingsOnConnect() {
			go c.hydrate(ctx, entry)
		}
	case channels.EventDisconnected:
		c.log.Info("inverter disconnected", "datalog", ev.Datalog)
		c.mu.Lock()
		delete(c.accumulators, ev.Datalog.String())
		c.mu.Unlock()
	case channels.EventPacket:
		c.handlePacket(ev.Datalog, ev.Packet)
	}
}

func (c *Coordinator) handlePacket(datalog serial.Serial, p frame.Packet) {
	switch v := p.(type) {
	case frame.Heartbeat:
		c.stats.RecordKind(stats.KindHeartbeat)
	case frame.TranslatedData:
		c.stats.RecordKind(stats.KindTranslatedData)
		c.handleTranslatedData(datalog, v)
	case frame.ReadParam:
		c.stats.RecordKind(stats.KindReadParam)
		c.publishParamRegister(datalog, v.Register, v.Value())
	case frame.WriteParam:
		c.stats.RecordKind(stats.KindWriteParam)
		c.publishParamRegister(datalog, v.Register, v.Value())
	}
}

func (c *Coordinator) handleTranslatedData(datalog serial.Serial, td frame.TranslatedData) {
	switch td.DeviceFunction {
	case frame.ReadInput:
		c.accumulateInput(datalog, td)
	case frame.ReadHold:
		for reg, word := range td.Pairs() {
			c.publishHoldRegister(datalog, reg, word)
		}
	case frame.WriteSingle:
		for reg, word := range td.Pairs() {
			c.publishHoldRegister(datalog, reg, word)
		}
	case frame.WriteMulti:
		for reg, word := range td.Pairs() {
			c.publishHoldRegister(datalog, reg, word)
		}
		c.mesh.ToBus.Publish(channels.BusPublish{
			Topic:   fmt.Sprintf("%s/write_multi/status", datalog),
			Payload: []byte("OK"),
		})
	}
}

// publishHoldRegister publishes the raw `{datalog}/hold/{reg}` topic and,
// when the schema names it, the parsed `{datalog}/{field-name}` topic for
// one holding register, plus its bits companion for registers 21 and 110.
func (c *Coordinator) publishHoldRegister(datalog serial.Serial, reg, word uint16) {
	cc := c.cacheFor(datalog)
	if cc.Get(reg) == word && word != 0 {
		return // unchanged since last publish, skip the redundant bus write
	}
	cc.Put(reg, word)

	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/hold/%d", datalog, reg),
		Payload: []byte(strconv.Itoa(int(word))),
		Retain:  true,
	})
	if r, ok := c.schema.Get(reg); ok {
		val := r.DecodeValue(fmt.Sprintf("%04x", word))
		c.mesh.ToBus.Publish(channels.BusPublish{
			Topic:   fmt.Sprintf("%s/%s", datalog, r.FieldName()),
			Payload: []byte(strconv.FormatFloat(val, 'f', -1, 64)),
			Retain:  true,
		})
	}

	switch reg {
	case 21:
		c.publishJSON(datalog, "hold", reg, register.NewRegister21Bits(word))
	case 110:
		c.publishJSON(datalog, "hold", reg, register.NewRegister110Bits(word))
	}
}

// publishParamRegister publishes the single combined topic for an opaque
// parameter register; params carry no named schema split the way hold and
// input registers do.
func (c *Coordinator) publishParamRegister(datalog serial.Serial, reg, word uint16) {
	cc := c.cacheFor(datalog)
	if cc.Get(reg) == word && word != 0 {
		return
	}
	cc.Put(reg, word)

	val := float64(word)
	if r, ok := c.schema.Get(reg); ok {
		val = r.DecodeValue(fmt.Sprintf("%04x", word))
	}
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/param/%d", datalog, reg),
		Payload: []byte(strconv.FormatFloat(val, 'f', -1, 64)),
		Retain:  true,
	})
}

func (c *Coordinator) publishJSON(datalog serial.Serial, kind string, reg uint16, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("failed to marshal register bits", "register", reg, "error", err)
		return
	}
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/%s/%d/bits", datalog, kind, reg),
		Payload: b,
		Retain:  true,
	})
}

// publishInputRegister publishes the raw `{datalog}/input/{reg}` topic and,
// when the schema names it, the parsed `{datalog}/input/{name}/parsed`
// topic for one input register.
func (c *Coordinator) publishInputRegister(datalog serial.Serial, reg, word uint16) {
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/input/%d", datalog, reg),
		Payload: []byte(strconv.Itoa(int(word))),
	})
	r, ok := c.schema.Get(reg)
	if !ok {
		return
	}
	val := r.DecodeValue(fmt.Sprintf("%04x", word))
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/input/%s/parsed", datalog, r.FieldName()),
		Payload: []byte(strconv.FormatFloat(val, 'f', -1, 64)),
	})
}

// publishInputPage publishes the combined `{datalog}/inputs/{n}` message for
// one completed 40-register input page, keyed by schema field name where
// known.
func (c *Coordinator) publishInputPage(datalog serial.Serial, page uint16, pairs map[uint16]uint16) {
	values := make(map[string]float64, len(pairs))
	for reg, word := range pairs {
		name := strconv.Itoa(int(reg))
		val := float64(word)
		if r, ok := c.schema.Get(reg); ok {
			name = r.FieldName()
			val = r.DecodeValue(fmt.Sprintf("%04x", word))
		}
		values[name] = val
	}
	b, err := json.Marshal(values)
	if err != nil {
		c.log.Warn("failed to marshal input page", "page", page, "error", err)
		return
	}
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/inputs/%d", datalog, page),
		Payload: b,
	})
}

// publishInputAll publishes the `{datalog}/inputs/all` message once all six
// input pages have composed into a full snapshot.
func (c *Coordinator) publishInputAll(datalog serial.Serial, snap *register.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		c.log.Warn("failed to marshal composed snapshot", "datalog", datalog, "error", err)
		return
	}
	c.mesh.ToBus.Publish(channels.BusPublish{
		Topic:   fmt.Sprintf("%s/inputs/all", datalog),
		Payload: b,
	})
}

func (c *Coordinator) accumulateInput(datalog serial.Serial, td frame.TranslatedData) {
	pairs := td.Pairs()
	for reg, word := range pairs {
		c.publishInputRegister(datalog, reg, word)
	}

	c.mu.Lock()
	acc, ok := c.accumulators[datalog.String()]
	if !ok {
		acc = register.NewAccumulator(datalog)
		c.accumulators[datalog.String()] = acc
	}
	c.mu.Unlock()

	complete, err := acc.AddPage(td.Register, pairs)
	if err != nil {
		c.log.Warn("discarding unrecognized input page", "register", td.Register, "error", err)
		return
	}
	c.publishInputPage(datalog, td.Register/register.PageSize+1, pairs)
	c.mesh.ToDatalog.Publish(channels.DatalogLine{
		UTCTimestamp: time.Now().UTC(),
		Datalog:      datalog,
		RegisterType: "input",
		RawData:      rawHexPairs(td),
	})
	if !complete {
		return
	}

	snap, err := acc.Compose()
	c.mu.Lock()
	delete(c.accumulators, datalog.String())
	c.mu.Unlock()
	if err != nil {
		c.stats.RecordValidationFailure()
		c.log.Warn("discarding snapshot that failed validation", "datalog", datalog, "error", err)
		return
	}

	c.publishInputAll(datalog, snap)
	c.mesh.ToInflux.Publish(channels.SnapshotMessage{Snapshot: snap})
	c.mesh.ToDatabase.Publish(channels.SnapshotMessage{Snapshot: snap})
}

func rawHexPairs(td frame.TranslatedData) map[uint16]string {
	out := make(map[uint16]string)
	for reg, word := range td.Pairs() {
		out[reg] = fmt.Sprintf("%04x", word)
	}
	return out
}

// hydrate reads every holding-register block and every scheduled time slot
// once on connect, when the inverter is configured to want it. The time
// slot reads don't republish explicitly: their ReadHold replies flow back
// through handleTranslatedData via the same from_inverter broadcast every
// other frame does.
func (c *Coordinator) hydrate(ctx context.Context, entry inverterEntry) {
	for offset := uint16(0); offset < 240; offset += register.PageSize {
		td, err := command.ReadHold(ctx, c.engine, entry.datalog, entry.inverterSerial, offset, register.PageSize)
		if err != nil {
			c.log.Warn("hydration read_hold failed", "offset", offset, "error", err)
			continue
		}
		for reg, word := range td.Pairs() {
			c.publishHoldRegister(entry.datalog, reg, word)
		}
	}

	for _, action := range []command.TimeSlotAction{
		command.ActionAcCharge,
		command.ActionAcFirst,
		command.ActionChargePriority,
		command.ActionForcedDischarge,
	} {
		for index := 1; index <= 3; index++ {
			if _, err := command.ReadTimeRegister(ctx, c.engine, entry.datalog, entry.inverterSerial, action, index); err != nil {
				c.log.Warn("hydration time slot read failed", "action", action, "index", index, "error", err)
			}
		}
	}
}

// handleBusCommand parses an operator command topic of the form
// "cmd/<datalog|all>/<verb>/<noun>[/<index>]" and dispatches it to the
// command engine for every resolved target inverter.
func (c *Coordinator) handleBusCommand(ctx context.Context, cmd channels.BusCommand) {
	parts := strings.Split(strings.TrimPrefix(cmd.Topic, c.cfg.MQTT.EffectiveNamespace()+"/"), "/")
	if len(parts) < 4 || parts[0] != "cmd" {
		c.publishFail(strings.Join(parts, "/"), "malformed command topic, expected cmd/<datalog|all>/<verb>/<noun>[/<index>]")
		return
	}
	targetText, verb, noun := parts[1], parts[2], parts[3]
	index := ""
	if len(parts) > 4 {
		index = parts[4]
	}

	targets, err := c.resolveTargets(targetText)
	if err != nil {
		c.publishFail(resultTail(targetText, verb, noun, index), err.Error())
		return
	}

	for _, entry := range targets {
		if err := c.dispatchCommand(ctx, entry, verb, noun, index, cmd.Payload); err != nil {
			c.log.Warn("bus command failed", "datalog", entry.datalog, "verb", verb, "noun", noun, "index", index, "error", err)
			c.publishFail(resultTail(entry.datalog.String(), verb, noun, index), err.Error())
		}
	}
}

func resultTail(target, verb, noun, index string) string {
	tail := fmt.Sprintf("result/%s/%s/%s", target, verb, noun)
	if index != "" {
		tail += "/" + index
	}
	return tail
}

func (c *Coordinator) publishFail(tail, reason string) {
	c.log.Warn("bus command failed", "tail", tail, "reason", reason)
	topic := tail
	if !strings.HasPrefix(topic, "result/") {
		topic = "result/" + topic
	}
	c.mesh.ToBus.Publish(channels.BusPublish{Topic: topic, Payload: []byte("FAIL")})
}

// resolveTargets expands the topic's target segment ("all" or one datalog)
// into the inverter entries a command should be dispatched to.
func (c *Coordinator) resolveTargets(text string) ([]inverterEntry, error) {
	if text == "all" {
		c.mu.Lock()
		defer c.mu.Unlock()
		out := make([]inverterEntry, 0, len(c.inverters))
		for _, e := range c.inverters {
			out = append(out, e)
		}
		return out, nil
	}
	datalog, err := serial.FromText(text)
	if err != nil {
		return nil, fmt.Errorf("invalid datalog %q in topic: %w", text, err)
	}
	entry, ok := c.entry(datalog)
	if !ok {
		return nil, fmt.Errorf("unknown inverter %q", text)
	}
	return []inverterEntry{entry}, nil
}

func (c *Coordinator) dispatchCommand(ctx context.Context, entry inverterEntry, verb, noun, index string, payload []byte) error {
	switch verb {
	case "read":
		return c.dispatchRead(ctx, entry, noun, index, payload)
	case "set":
		return c.dispatchSet(ctx, entry, noun, index, payload)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

func (c *Coordinator) dispatchRead(ctx context.Context, entry inverterEntry, noun, index string, payload []byte) error {
	switch noun {
	case "inputs":
		page, err := strconv.ParseUint(index, 10, 16)
		if err != nil || page < 1 || page > register.PageCount {
			return fmt.Errorf("invalid inputs page %q", index)
		}
		offset := uint16(page-1) * register.PageSize
		_, err = command.ReadInput(ctx, c.engine, entry.datalog, entry.inverterSerial, offset, register.PageSize)
		return err

	case "input", "hold":
		reg, err := parseRegisterIndex(index)
		if err != nil {
			return err
		}
		count, err := parseCountOrDefault(payload, 1)
		if err != nil {
			return err
		}
		if noun == "input" {
			_, err = command.ReadInput(ctx, c.engine, entry.datalog, entry.inverterSerial, reg, count)
		} else {
			_, err = command.ReadHold(ctx, c.engine, entry.datalog, entry.inverterSerial, reg, count)
		}
		return err

	case "param":
		reg, err := parseRegisterIndex(index)
		if err != nil {
			return err
		}
		_, err = command.ReadParam(ctx, c.engine, entry.datalog, reg)
		return err

	case "ac_charge", "ac_first", "charge_priority", "forced_discharge":
		action, err := timeSlotActionFor(noun)
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(index)
		if err != nil {
			return fmt.Errorf("invalid time slot index %q", index)
		}
		_, err = command.ReadTimeRegister(ctx, c.engine, entry.datalog, entry.inverterSerial, action, idx)
		return err

	default:
		return fmt.Errorf("unknown read noun %q", noun)
	}
}

func (c *Coordinator) dispatchSet(ctx context.Context, entry inverterEntry, noun, index string, payload []byte) error {
	switch {
	case noun == "hold" && index != "":
		reg, err := parseRegisterIndex(index)
		if err != nil {
			return err
		}
		value, err := parseUint16Payload(payload)
		if err != nil {
			return err
		}
		return command.SetHold(ctx, c.engine, c.cfg, entry.cfg, entry.datalog, entry.inverterSerial, reg, value)

	case noun == "param" && index != "":
		reg, err := parseRegisterIndex(index)
		if err != nil {
			return err
		}
		value, err := parseUint16Payload(payload)
		if err != nil {
			return err
		}
		return command.WriteParam(ctx, c.engine, c.cfg, entry.cfg, entry.datalog, reg, value)

	case (noun == "ac_charge" || noun == "charge_priority" || noun == "forced_discharge") && index == "":
		bit, err := boolFlagBitFor(noun)
		if err != nil {
			return err
		}
		return command.UpdateHold(ctx, c.engine, c.cfg, entry.cfg, entry.datalog, entry.inverterSerial, registerFeatureFlags, bit, parseBoolPayload(payload))

	case (noun == "ac_charge" || noun == "ac_first" || noun == "charge_priority" || noun == "forced_discharge") && index != "":
		action, err := timeSlotActionFor(noun)
		if err != nil {
			return err
		}
		idx, err := strconv.Atoi(index)
		if err != nil {
			return fmt.Errorf("invalid time slot index %q", index)
		}
		slot, err := parseStartEndPayload(payload)
		if err != nil {
			return err
		}
		return command.SetTimeRegister(ctx, c.engine, c.cfg, entry.cfg, entry.datalog, entry.inverterSerial, action, idx, slot)

	case noun == "charge_rate_pct":
		return c.setPercentRegister(ctx, entry, registerChargeRatePct, payload)
	case noun == "discharge_rate_pct":
		return c.setPercentRegister(ctx, entry, registerDischargeRatePct, payload)
	case noun == "ac_charge_rate_pct":
		return c.setPercentRegister(ctx, entry, registerAcChargeRatePct, payload)
	case noun == "ac_charge_soc_limit_pct":
		return c.setPercentRegister(ctx, entry, registerAcChargeSocLimitPct, payload)
	case noun == "discharge_cutoff_soc_limit_pct":
		return c.setPercentRegister(ctx, entry, registerDischargeCutoffSocLimitPct, payload)

	default:
		return fmt.Errorf("unknown set noun %q (index %q)", noun, index)
	}
}

func (c *Coordinator) setPercentRegister(ctx context.Context, entry inverterEntry, reg uint16, payload []byte) error {
	value, err := parseUint16Payload(payload)
	if err != nil {
		return err
	}
	return command.SetHold(ctx, c.engine, c.cfg, entry.cfg, entry.datalog, entry.inverterSerial, reg, value)
}

func timeSlotActionFor(noun string) (command.TimeSlotAction, error) {
	switch noun {
	case "ac_charge":
		return command.ActionAcCharge, nil
	case "ac_first":
		return command.ActionAcFirst, nil
	case "charge_priority":
		return command.ActionChargePriority, nil
	case "forced_discharge":
		return command.ActionForcedDischarge, nil
	default:
		return 0, fmt.Errorf("unknown time slot action %q", noun)
	}
}

func boolFlagBitFor(noun string) (register.RegisterBit, error) {
	switch noun {
	case "ac_charge":
		return register.BitAcChargeEn, nil
	case "charge_priority":
		return register.BitChargePriorityEn, nil
	case "forced_discharge":
		return register.BitForcedDischargeEn, nil
	default:
		return 0, fmt.Errorf("unknown boolean flag noun %q", noun)
	}
}

func parseRegisterIndex(index string) (uint16, error) {
	v, err := strconv.ParseUint(index, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register index %q: %w", index, err)
	}
	return uint16(v), nil
}

// parseUint16Payload parses a decimal integer bus payload, per the bus
// command payload rules (integers are decimal).
func parseUint16Payload(payload []byte) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid integer payload %q: %w", payload, err)
	}
	return uint16(v), nil
}

// parseCountOrDefault parses an optional decimal count payload, defaulting
// when the payload is empty.
func parseCountOrDefault(payload []byte, def uint16) (uint16, error) {
	if strings.TrimSpace(string(payload)) == "" {
		return def, nil
	}
	return parseUint16Payload(payload)
}

// parseBoolPayload applies the bus command boolean-payload rule:
// {1,t,true,on,y,yes} (case-insensitive) is true, everything else is false.
func parseBoolPayload(payload []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "t", "true", "on", "y", "yes":
		return true
	default:
		return false
	}
}

type startEndPayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// parseStartEndPayload decodes the {"start":"HH:MM","end":"HH:MM"} bus
// payload used by the time-slot setters into a command.TimeSlot.
func parseStartEndPayload(payload []byte) (command.TimeSlot, error) {
	var se startEndPayload
	if err := json.Unmarshal(payload, &se); err != nil {
		return command.TimeSlot{}, fmt.Errorf("invalid start/end payload: %w", err)
	}
	startHour, startMinute, err := parseHHMM(se.Start)
	if err != nil {
		return command.TimeSlot{}, fmt.Errorf("invalid start time %q: %w", se.Start, err)
	}
	endHour, endMinute, err := parseHHMM(se.End)
	if err != nil {
		return command.TimeSlot{}, fmt.Errorf("invalid end time %q: %w", se.End, err)
	}
	return command.TimeSlot{
		StartHour:   startHour,
		StartMinute: startMinute,
		EndHour:     endHour,
		EndMinute:   endMinute,
	}, nil
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour: %w", err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute: %w", err)
	}
	return h, m, nil
}
