// Package command implements the request/reply command engine: every
// outbound request is content-addressed (datalog, register, kind) rather
// than correlated by a transaction ID, since the inverter protocol carries
// no such field. The waiters map and its single fan-in goroutine are
// modeled directly on modbus.ModbusConn's transaction-ID waiters map,
// generalized to the bridge's triple-keyed correlation rule.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/frame"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// DefaultTimeout bounds how long Engine.Send waits for a correlated reply.
const DefaultTimeout = 30 * time.Second

// key is the content-addressed correlation key: the inverter protocol has
// no transaction ID, so replies are matched back to requests by the triple
// the spec calls out (datalog, register, device/command kind).
type key struct {
	datalog  serial.Serial
	register uint16
	kind     string
}

func keyFor(datalog serial.Serial, register uint16, kind string) key {
	return key{datalog: datalog, register: register, kind: kind}
}

func packetKey(p frame.Packet) (key, bool) {
	switch v := p.(type) {
	case frame.TranslatedData:
		return keyFor(v.DatalogSerial, v.Register, "TranslatedData:"+v.DeviceFunction.String()), true
	case frame.ReadParam:
		return keyFor(v.DatalogSerial, v.Register, "Param"), true
	case frame.WriteParam:
		return keyFor(v.DatalogSerial, v.Register, "Param"), true
	case frame.Heartbeat:
		return keyFor(v.DatalogSerial, 0, "Heartbeat"), true
	default:
		return key{}, false
	}
}

// Engine owns the waiters map and the single goroutine fanning decoded
// inverter frames out to whichever Send call is awaiting them.
type Engine struct {
	mesh *channels.Mesh

	mu      sync.Mutex
	waiters map[key]chan frame.Packet
}

// New returns an Engine; callers must call Run to start its fan-in loop.
func New(mesh *channels.Mesh) *Engine {
	return &Engine{mesh: mesh, waiters: make(map[key]chan frame.Packet)}
}

// Run drives the fan-in loop until ctx is cancelled: every decoded inverter
// frame is matched against the waiters map and delivered to at most one
// caller; unmatched frames are discarded (the coordinator, not the engine,
// is responsible for unsolicited telemetry).
func (e *Engine) Run(ctx context.Context) error {
	sub, cancel := e.mesh.FromInverter.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			e.failAll(fmt.Errorf("command engine shut down"))
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case channels.EventShutdown:
				e.failAll(fmt.Errorf("command engine shut down"))
				return nil
			case channels.EventDisconnected:
				e.failDatalog(ev.Datalog, fmt.Errorf("inverter %s disconnected", ev.Datalog))
			case channels.EventPacket:
				e.deliver(ev.Packet)
			}
		}
	}
}

func (e *Engine) deliver(p frame.Packet) {
	k, ok := packetKey(p)
	if !ok {
		return
	}
	e.mu.Lock()
	ch, ok := e.waiters[k]
	if ok {
		delete(e.waiters, k)
	}
	e.mu.Unlock()
	if ok {
		ch <- p
	}
}

func (e *Engine) failAll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, ch := range e.waiters {
		close(ch)
		delete(e.waiters, k)
	}
	_ = err
}

func (e *Engine) failDatalog(datalog serial.Serial, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, ch := range e.waiters {
		if k.datalog == datalog {
			close(ch)
			delete(e.waiters, k)
		}
	}
	_ = err
}

func (e *Engine) register(k key) chan frame.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan frame.Packet, 1)
	e.waiters[k] = ch
	return ch
}

// Send publishes req to the inverter and waits for its correlated reply
// (or timeout, context cancellation, or disconnect/shutdown of the owning
// link). The request's own key is used for correlation, since request and
// reply always share the same (datalog, register, kind) triple.
func (e *Engine) Send(ctx context.Context, datalog serial.Serial, req frame.Packet) (frame.Packet, error) {
	k, ok := packetKey(req)
	if !ok {
		return nil, fmt.Errorf("command: cannot correlate packet kind %T", req)
	}

	ch := e.register(k)
	e.mesh.ToInverter.Publish(channels.InverterEvent{Kind: channels.EventPacket, Datalog: datalog, Packet: req})

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.waiters, k)
		e.mu.Unlock()
		return nil, fmt.Errorf("command: timed out waiting for reply: %w", ctx.Err())
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("command: link for %s closed before reply arrived", datalog)
		}
		return reply, nil
	}
}
