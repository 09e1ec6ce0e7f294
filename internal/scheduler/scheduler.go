// Package scheduler runs the two periodic loops that drive unsolicited
// inverter traffic: a 60s time-sync tick and a register-poll tick. The poll
// interval is not a config setting: it is the first enabled inverter's
// delay_ms multiplied by the number of register blocks in the 240-register
// window (10s when no inverter is enabled), shared by every inverter. Grounded on the teacher's periodic querier loop in
// internal/solar/querier.go, generalized to per-inverter block polling plus
// the domain's separate time-sync cadence.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/command"
	"github.com/lachlan2k/eg4-bridge/internal/config"
	"github.com/lachlan2k/eg4-bridge/internal/register"
	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

const timeSyncInterval = 60 * time.Second

// inverterTarget is the minimal identity a scheduler needs to poll one
// configured inverter.
type inverterTarget struct {
	cfg            config.Inverter
	datalog        serial.Serial
	inverterSerial serial.Serial
}

// Scheduler periodically time-syncs and polls every enabled inverter.
type Scheduler struct {
	engine  *command.Engine
	mesh    *channels.Mesh
	log     *slog.Logger
	targets []inverterTarget
}

// New builds a Scheduler for the given configuration.
func New(cfg *config.Loaded, mesh *channels.Mesh, engine *command.Engine, log *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{engine: engine, mesh: mesh, log: log}
	for _, inv := range cfg.Inverters {
		if !inv.IsEnabled() {
			continue
		}
		datalog, err := inv.Datalog()
		if err != nil {
			return nil, err
		}
		invSerial, err := inv.Serial()
		if err != nil {
			return nil, err
		}
		s.targets = append(s.targets, inverterTarget{cfg: inv, datalog: datalog, inverterSerial: invSerial})
	}
	return s, nil
}

// Run drives both periodic loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timeSyncTicker := time.NewTicker(timeSyncInterval)
	defer timeSyncTicker.Stop()

	pollTicker := time.NewTicker(s.pollInterval())
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeSyncTicker.C:
			s.runTimeSync(ctx)
		case <-pollTicker.C:
			s.runPoll(ctx)
		}
	}
}

func (s *Scheduler) pollInterval() time.Duration {
	for _, t := range s.targets {
		return t.cfg.DelayMillis() * time.Duration(register.PageCount*register.PageSize/int(t.cfg.RegisterBlockSize()))
	}
	return 10 * time.Second
}

func (s *Scheduler) runTimeSync(ctx context.Context) {
	for _, t := range s.targets {
		wrote, drift, err := command.TimeSync(ctx, s.engine, t.datalog, t.inverterSerial, time.Now())
		if err != nil {
			s.log.Warn("time_sync failed", "datalog", t.datalog, "error", err)
			continue
		}
		if wrote {
			s.log.Info("time_sync corrected inverter clock", "datalog", t.datalog, "drift", drift)
		}
	}
}

func (s *Scheduler) runPoll(ctx context.Context) {
	for _, t := range s.targets {
		blockSize := t.cfg.RegisterBlockSize()
		for offset := uint16(0); offset < register.PageCount*register.PageSize; offset += blockSize {
			if _, err := command.ReadInput(ctx, s.engine, t.datalog, t.inverterSerial, offset, blockSize); err != nil {
				s.log.Warn("poll read_input failed", "datalog", t.datalog, "offset", offset, "error", err)
			}
			time.Sleep(t.cfg.DelayMillis())
		}
	}
}
