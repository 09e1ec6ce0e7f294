package channels

import (
	"time"

	"github.com/lachlan2k/eg4-bridge/internal/frame"
	"github.com/lachlan2k/eg4-bridge/internal/register"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// InverterEventKind enumerates the messages that flow on the from_inverter
// and to_inverter topics.
type InverterEventKind int

const (
	EventPacket InverterEventKind = iota
	EventConnected
	EventDisconnected
	EventShutdown
)

// InverterEvent is one message on the inverter channel mesh: either a
// decoded/to-be-encoded frame, or a connection lifecycle notification.
type InverterEvent struct {
	Kind    InverterEventKind
	Datalog serial.Serial
	Packet  frame.Packet
}

// BusCommand is one incoming operator command received from the message
// bus, still in raw topic/payload form.
type BusCommand struct {
	Topic   string
	Payload []byte
}

// BusPublish is one outgoing message bound for the message bus.
type BusPublish struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// SnapshotMessage carries one composed telemetry row to the time-series
// and SQL sinks, or signals shutdown.
type SnapshotMessage struct {
	Shutdown bool
	Snapshot *register.Snapshot
}

// DatalogLine is one row appended to the JSON datalog file.
type DatalogLine struct {
	Shutdown     bool
	UTCTimestamp time.Time
	Serial       serial.Serial
	Datalog      serial.Serial
	RegisterType string // "hold" or "input"
	RawData      map[uint16]string
}

// Mesh is the fixed set of typed broadcast topics wiring every component
// together, mirroring the source's Channels struct one field at a time.
type Mesh struct {
	FromInverter *Broadcaster[InverterEvent]
	ToInverter   *Broadcaster[InverterEvent]
	FromBus      *Broadcaster[BusCommand]
	ToBus        *Broadcaster[BusPublish]
	ToInflux     *Broadcaster[SnapshotMessage]
	ToDatabase   *Broadcaster[SnapshotMessage]
	ToDatalog    *Broadcaster[DatalogLine]
}

// NewMesh allocates every topic in the channel mesh.
func NewMesh() *Mesh {
	return &Mesh{
		FromInverter: New[InverterEvent](),
		ToInverter:   New[InverterEvent](),
		FromBus:      New[BusCommand](),
		ToBus:        New[BusPublish](),
		ToInflux:     New[SnapshotMessage](),
		ToDatabase:   New[SnapshotMessage](),
		ToDatalog:    New[DatalogLine](),
	}
}

// Shutdown broadcasts a shutdown notification on every topic that carries
// lifecycle events.
func (m *Mesh) Shutdown() {
	m.FromInverter.Publish(InverterEvent{Kind: EventShutdown})
	m.ToInverter.Publish(InverterEvent{Kind: EventShutdown})
	m.ToInflux.Publish(SnapshotMessage{Shutdown: true})
	m.ToDatabase.Publish(SnapshotMessage{Shutdown: true})
	m.ToDatalog.Publish(DatalogLine{Shutdown: true})
}
