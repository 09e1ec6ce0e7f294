// Package stats implements the process-wide counters: overall packet-kind
// breakdowns plus per-datalog received/disconnect/serial-mismatch counts
// and last-seen text, shared by reference between the coordinator and every
// inverter link.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// PerDatalog holds the counters and last-seen state for one inverter's
// datalog gateway.
type PerDatalog struct {
	Received        uint64
	Disconnects     uint64
	SerialMismatches uint64
	LastSeen        string
	LastSeenAt      time.Time
}

// Stats is the mutex-guarded counter bundle. Failure to acquire the lock
// never happens in Go (no try-lock here), but every critical section is
// kept intentionally short, matching the source's "short critical
// sections" design note.
type Stats struct {
	mu sync.Mutex

	Heartbeats      uint64
	TranslatedData  uint64
	ReadParams      uint64
	WriteParams     uint64
	ValidationFails uint64

	perDatalog map[string]*PerDatalog
}

// New returns an empty stats bundle.
func New() *Stats {
	return &Stats{perDatalog: make(map[string]*PerDatalog)}
}

func (s *Stats) datalog(key string) *PerDatalog {
	d, ok := s.perDatalog[key]
	if !ok {
		d = &PerDatalog{}
		s.perDatalog[key] = d
	}
	return d
}

// RecordReceived increments the received counter and refreshes last-seen
// text for a datalog.
func (s *Stats) RecordReceived(datalog, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.datalog(datalog)
	d.Received++
	d.LastSeen = text
	d.LastSeenAt = time.Now()
}

// RecordDisconnect increments the disconnect counter for a datalog.
func (s *Stats) RecordDisconnect(datalog string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datalog(datalog).Disconnects++
}

// RecordSerialMismatch increments the serial-mismatch counter for a datalog.
func (s *Stats) RecordSerialMismatch(datalog string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datalog(datalog).SerialMismatches++
}

// RecordValidationFailure increments the global validation-failure counter.
func (s *Stats) RecordValidationFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ValidationFails++
}

// Kind identifies a frame kind for the global per-kind counters.
type Kind int

const (
	KindHeartbeat Kind = iota
	KindTranslatedData
	KindReadParam
	KindWriteParam
)

// RecordKind increments the global counter for a frame kind.
func (s *Stats) RecordKind(k Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch k {
	case KindHeartbeat:
		s.Heartbeats++
	case KindTranslatedData:
		s.TranslatedData++
	case KindReadParam:
		s.ReadParams++
	case KindWriteParam:
		s.WriteParams++
	}
}

// Snapshot is a point-in-time copy of one datalog's counters, safe to log
// or print after the lock is released.
func (s *Stats) Snapshot(datalog string) PerDatalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.datalog(datalog)
}

// Dump renders every datalog's counters, used at shutdown.
func (s *Stats) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf("heartbeats=%d translated_data=%d read_params=%d write_params=%d validation_fails=%d\n",
		s.Heartbeats, s.TranslatedData, s.ReadParams, s.WriteParams, s.ValidationFails)
	for datalog, d := range s.perDatalog {
		out += fmt.Sprintf("  %s: received=%d disconnects=%d serial_mismatches=%d last_seen=%q\n",
			datalog, d.Received, d.Disconnects, d.SerialMismatches, d.LastSeen)
	}
	return out
}
