// Package link implements the per-inverter TCP connection: supervised
// reconnect, a sender task (channel -> socket) and a receiver task
// (socket -> channel) run under an errgroup for the lifetime of one
// connection, exactly the shape of the teacher's ModbusConn.Run
// (receiver/transmitter/fanout), generalized from a single Modbus
// request/reply socket to the bridge's framed, broadcast-fed link.
package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/config"
	"github.com/lachlan2k/eg4-bridge/internal/frame"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
	"github.com/lachlan2k/eg4-bridge/internal/stats"
)

const (
	writeTimeout     = 5 * time.Second
	connectTimeout   = 2 * writeTimeout
	reconnectBackoff = 5 * time.Second
	keepAlive        = 60 * time.Second
)

// Link owns one inverter's TCP connection for the lifetime of the process,
// reconnecting indefinitely on failure.
type Link struct {
	cfg     config.Inverter
	datalog serial.Serial
	mesh    *channels.Mesh
	log     *slog.Logger
	stats   *stats.Stats
	strict  bool

	expectedMu  sync.Mutex
	expectedInv serial.Serial
}

// New builds a Link for one configured inverter.
func New(cfg config.Inverter, datalog, inverterSerial serial.Serial, mesh *channels.Mesh, st *stats.Stats, strict bool, log *slog.Logger) *Link {
	return &Link{
		cfg:         cfg,
		datalog:     datalog,
		expectedInv: inverterSerial,
		mesh:        mesh,
		stats:       st,
		strict:      strict,
		log:         log.With("datalog", datalog.String()),
	}
}

// Run reconnects indefinitely until ctx is cancelled (process shutdown).
func (l *Link) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := l.runOnce(ctx); err != nil {
			l.log.Warn("inverter link ended", "error", err)
			l.stats.RecordDisconnect(l.datalog.String())
		}
		l.mesh.FromInverter.Publish(channels.InverterEvent{Kind: channels.EventDisconnected, Datalog: l.datalog})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectBackoff):
		}
	}
}

func (l *Link) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(keepAlive)
		tcp.SetNoDelay(l.cfg.UseTCPNoDelay())
	}

	l.log.Info("inverter connected")
	l.mesh.FromInverter.Publish(channels.InverterEvent{Kind: channels.EventConnected, Datalog: l.datalog})

	toInverter, cancelSub := l.mesh.ToInverter.Subscribe()
	defer cancelSub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.sender(gctx, conn, toInverter.C) })
	g.Go(func() error { return l.receiver(gctx, conn) })

	return g.Wait()
}

func (l *Link) sender(ctx context.Context, conn net.Conn, events <-chan channels.InverterEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == channels.EventShutdown {
				return nil
			}
			if ev.Kind != channels.EventPacket {
				continue
			}
			if !ev.Datalog.IsZero() && ev.Datalog != l.datalog {
				continue // not addressed to this link
			}

			if hb, ok := ev.Packet.(frame.Heartbeat); ok {
				// Heartbeats pass through: the coordinator treats them as
				// a loopback acknowledgement rather than a wire write.
				l.mesh.FromInverter.Publish(channels.InverterEvent{Kind: channels.EventPacket, Datalog: l.datalog, Packet: hb})
				continue
			}

			encoded, err := frame.Encode(ev.Packet)
			if err != nil {
				l.log.Warn("encode failed", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write(encoded); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (l *Link) receiver(ctx context.Context, conn net.Conn) error {
	dec := frame.NewDecoder()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		time.Sleep(l.cfg.DelayMillis())

		if to := l.cfg.ReadTimeout(); to > 0 {
			conn.SetReadDeadline(time.Now().Add(to))
		} else {
			conn.SetReadDeadline(time.Time{})
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := dec.Feed(buf[:n]); ferr != nil {
				return ferr
			}
			l.drainAndForward(dec)
		}
		if err != nil {
			if err == io.EOF {
				l.drainAndForward(dec)
				return fmt.Errorf("connection closed by peer")
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Link) drainAndForward(dec *frame.Decoder) {
	for {
		p, ok, err := dec.Next()
		if err != nil {
			l.log.Warn("frame decode error, skipping frame", "error", err)
			continue
		}
		if !ok {
			return
		}
		if p == nil {
			continue
		}
		l.handleDecoded(p)
	}
}

func (l *Link) handleDecoded(p frame.Packet) {
	if p.Datalog() != l.datalog {
		l.handleSerialMismatch("datalog", p.Datalog().String())
		if l.strict {
			return
		}
	}
	if td, ok := p.(frame.TranslatedData); ok {
		if td.InverterSerial != l.expectedInverter() {
			l.handleSerialMismatch("inverter", td.InverterSerial.String())
			if !l.strict {
				l.expectedMu.Lock()
				l.expectedInv = td.InverterSerial
				l.expectedMu.Unlock()
			}
		}
	}

	l.stats.RecordReceived(l.datalog.String(), fmt.Sprintf("%T", p))
	l.mesh.FromInverter.Publish(channels.InverterEvent{Kind: channels.EventPacket, Datalog: l.datalog, Packet: p})
}

func (l *Link) expectedInverter() serial.Serial {
	l.expectedMu.Lock()
	defer l.expectedMu.Unlock()
	return l.expectedInv
}

func (l *Link) handleSerialMismatch(kind, got string) {
	l.stats.RecordSerialMismatch(l.datalog.String())
	l.log.Warn("serial mismatch on inbound frame", "kind", kind, "got", got, "strict", l.strict)
}
