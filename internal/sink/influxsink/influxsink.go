// Package influxsink writes composed telemetry snapshots to InfluxDB via
// influxdb-client-go/v2, the time-series client carried in the example
// pack's go.mod (spuky-evcc) though unused there in any grepped call site;
// wired here as the time-series half of the domain stack the teacher never
// needed (a one-shot MQTT relay has no storage tier of its own).
package influxsink

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/config"
)

const (
	writeTimeout = 10 * time.Second
	maxRetries   = 3
	retryBackoff = 10 * time.Second
)

// Sink writes every composed Snapshot on to_influx to an InfluxDB bucket.
type Sink struct {
	client influxdb2.Client
	org    string
	bucket string
	mesh   *channels.Mesh
	log    *slog.Logger
}

// New connects a client for the configured Influx instance; it does not
// verify connectivity (influxdb2.NewClient never blocks).
func New(cfg config.Influx, mesh *channels.Mesh, log *slog.Logger) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Password)
	return &Sink{client: client, org: cfg.Username, bucket: cfg.Database, mesh: mesh, log: log}
}

// Run drains to_influx until shutdown, writing each snapshot as one point.
func (s *Sink) Run(ctx context.Context) error {
	sub, cancel := s.mesh.ToInflux.Subscribe()
	defer cancel()
	writeAPI := s.client.WriteAPIBlocking(s.org, s.bucket)

	for {
		select {
		case <-ctx.Done():
			s.client.Close()
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			if msg.Shutdown || msg.Snapshot == nil {
				s.client.Close()
				return nil
			}
			s.writeWithRetry(ctx, writeAPI, msg)
		}
	}
}

func (s *Sink) writeWithRetry(ctx context.Context, writeAPI api, msg channels.SnapshotMessage) {
	point := snapshotPoint(msg)
	backoff := retryBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := writeAPI.WritePoint(wctx, point)
		cancel()
		if err == nil {
			return
		}
		s.log.Warn("influx write failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.log.Error("influx write abandoned after retries", "datalog", msg.Snapshot.Datalog)
}

// api is the subset of influxdb2's WriteAPIBlocking this sink depends on.
type api interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

func snapshotPoint(msg channels.SnapshotMessage) *write.Point {
	snap := msg.Snapshot
	return influxdb2.NewPoint(
		"inverter_telemetry",
		map[string]string{"datalog": snap.Datalog.String()},
		map[string]any{
			"soc":         snap.SOC,
			"soh":         snap.SOH,
			"p_pv":        snap.PPV,
			"p_battery":   snap.PBattery,
			"p_grid":      snap.PGrid,
			"p_to_user":   snap.PToUser,
			"p_to_grid":   snap.PToGrid,
			"v_bat":       snap.VBat,
			"fault_code":  snap.FaultCode,
			"warning_code": snap.WarningCode,
			"t_bat":       snap.TBat,
		},
		time.Now(),
	)
}
