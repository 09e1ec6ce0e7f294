// Package datalogsink appends one JSON object per received register block
// to a flat file, the simplest of the three sinks and the only one with no
// third-party client: the format is an operator-facing audit log, not an
// API surface, so encoding/json and os are the correct tools rather than a
// library reach.
package datalogsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
)

// Sink appends every DatalogLine on to_datalog to a JSON-lines file.
type Sink struct {
	file *os.File
	mesh *channels.Mesh
}

// Open opens (creating if necessary) the datalog file in append mode.
func Open(path string, mesh *channels.Mesh) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datalogsink: open %s: %w", path, err)
	}
	return &Sink{file: f, mesh: mesh}, nil
}

type line struct {
	Timestamp    string            `json:"timestamp"`
	Serial       string            `json:"serial"`
	Datalog      string            `json:"datalog"`
	RegisterType string            `json:"register_type"`
	RawData      map[uint16]string `json:"raw_data"`
}

// Run drains to_datalog until shutdown, appending and flushing each line.
func (s *Sink) Run(ctx context.Context) error {
	sub, cancel := s.mesh.ToDatalog.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return s.file.Close()
		case msg, ok := <-sub.C:
			if !ok {
				return s.file.Close()
			}
			if msg.Shutdown {
				return s.file.Close()
			}
			if err := s.appendLine(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) appendLine(msg channels.DatalogLine) error {
	l := line{
		Timestamp:    msg.UTCTimestamp.Format("2006-01-02T15:04:05Z07:00"),
		Serial:       msg.Serial.String(),
		Datalog:      msg.Datalog.String(),
		RegisterType: msg.RegisterType,
		RawData:      msg.RawData,
	}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("datalogsink: marshal: %w", err)
	}
	b = append(b, '\n')
	if _, err := s.file.Write(b); err != nil {
		return fmt.Errorf("datalogsink: write: %w", err)
	}
	return s.file.Sync()
}
