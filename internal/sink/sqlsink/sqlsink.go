// Package sqlsink persists composed telemetry snapshots to a SQL database
// using database/sql with lib/pq's Postgres driver, following the example
// pack's mpc_persistence.go database/sql usage but as one ExecContext insert
// per snapshot, with no transaction or prepared statement. Only Postgres is actually linked: mysql:// and
// sqlite:// URLs parse but return an explicit unsupported-driver error,
// since no such driver appears in any teacher-eligible repo of the pack.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/register"
)

const (
	insertTimeout = 10 * time.Second
	maxRetries    = 3
	initialBackoff = time.Second
)

// Sink persists every composed Snapshot on to_database.
type Sink struct {
	db   *sql.DB
	mesh *channels.Mesh
	log  *slog.Logger
}

// Open opens a connection pool for a postgres:// URL. mysql:// and
// sqlite:// are recognized but rejected: the pack carries no driver for
// either.
func Open(url string, mesh *channels.Mesh, log *slog.Logger) (*Sink, error) {
	switch {
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, fmt.Errorf("sqlsink: open: %w", err)
		}
		return &Sink{db: db, mesh: mesh, log: log}, nil
	case strings.HasPrefix(url, "mysql://"):
		return nil, fmt.Errorf("sqlsink: mysql driver is not linked into this build")
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "sqlite3://"):
		return nil, fmt.Errorf("sqlsink: sqlite driver is not linked into this build")
	default:
		return nil, fmt.Errorf("sqlsink: unrecognized database url scheme: %q", url)
	}
}

// Run drains to_database until shutdown, inserting each snapshot as one row.
func (s *Sink) Run(ctx context.Context) error {
	sub, cancel := s.mesh.ToDatabase.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.db.Close()
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			if msg.Shutdown || msg.Snapshot == nil {
				s.db.Close()
				return nil
			}
			s.insertWithRetry(ctx, msg.Snapshot)
		}
	}
}

func (s *Sink) insertWithRetry(ctx context.Context, snap *register.Snapshot) {
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		ictx, cancel := context.WithTimeout(ctx, insertTimeout)
		err := s.insert(ictx, snap)
		cancel()
		if err == nil {
			return
		}
		s.log.Warn("sql insert failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.log.Error("sql insert abandoned after retries", "datalog", snap.Datalog)
}

// columns is the exact 68-column set the source's database.rs binds at
// insert time (its literal SQL text names more placeholders than it ever
// supplies values for; this sink only ever declares the columns it fills).
var columns = []string{
	"status", "v_pv_1", "v_pv_2", "v_pv_3", "v_bat", "soc", "soh", "internal_fault",
	"p_pv", "p_pv_1", "p_pv_2", "p_pv_3", "p_battery", "p_charge", "p_discharge",
	"v_ac_r", "v_ac_s", "v_ac_t", "f_ac", "p_inv", "p_rec", "pf",
	"v_eps_r", "v_eps_s", "v_eps_t", "f_eps", "p_eps", "s_eps",
	"p_grid", "p_to_grid", "p_to_user",
	"e_pv_day", "e_pv_day_1", "e_pv_day_2", "e_pv_day_3",
	"e_inv_day", "e_rec_day", "e_chg_day", "e_dischg_day", "e_eps_day",
	"e_to_grid_day", "e_to_user_day",
	"v_bus_1", "v_bus_2",
	"e_pv_all", "e_pv_all_1", "e_pv_all_2", "e_pv_all_3",
	"e_inv_all", "e_rec_all", "e_chg_all", "e_dischg_all", "e_eps_all",
	"e_to_grid_all", "e_to_user_all",
	"fault_code", "warning_code",
	"t_inner", "t_rad_1", "t_rad_2", "t_bat",
	"runtime", "bms_event_1", "bms_event_2", "bms_fw_update_state",
	"cycle_count", "vbat_inv", "datalog",
}

func (s *Sink) insert(ctx context.Context, snap *register.Snapshot) error {
	values := []any{
		snap.Status, snap.VPV1, snap.VPV2, snap.VPV3, snap.VBat, snap.SOC, snap.SOH, snap.InternalFault,
		snap.PPV, snap.PPV1, snap.PPV2, snap.PPV3, snap.PBattery, snap.PCharge, snap.PDischarge,
		snap.VACR, snap.VACS, snap.VACT, snap.FAC, snap.PInv, snap.PRec, snap.PF,
		snap.VEPSR, snap.VEPSS, snap.VEPST, snap.FEPS, snap.PEPS, snap.SEPS,
		snap.PGrid, snap.PToGrid, snap.PToUser,
		snap.EPVDay, snap.EPVDay1, snap.EPVDay2, snap.EPVDay3,
		snap.EInvDay, snap.ERecDay, snap.EChgDay, snap.EDischgDay, snap.EEPSDay,
		snap.EToGridDay, snap.EToUserDay,
		snap.VBus1, snap.VBus2,
		snap.EPVAll, snap.EPVAll1, snap.EPVAll2, snap.EPVAll3,
		snap.EInvAll, snap.ERecAll, snap.EChgAll, snap.EDischgAll, snap.EEPSAll,
		snap.EToGridAll, snap.EToUserAll,
		snap.FaultCode, snap.WarningCode,
		snap.TInner, snap.TRad1, snap.TRad2, snap.TBat,
		snap.Runtime, snap.BMSEvent1, snap.BMSEvent2, snap.BMSFWUpdateState,
		snap.CycleCount, snap.VBatInv, snap.Datalog.String(),
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO inverter_telemetry (%s) VALUES (%s)",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	_, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("sqlsink: insert: %w", err)
	}
	return nil
}
