package stats

import "testing"

func TestRecordReceivedTracksPerDatalogCounters(t *testing.T) {
	s := New()
	s.RecordReceived("DATALOG001", "Heartbeat")
	s.RecordReceived("DATALOG001", "TranslatedData")
	s.RecordDisconnect("DATALOG001")

	snap := s.Snapshot("DATALOG001")
	if snap.Received != 2 {
		t.Errorf("received = %d, want 2", snap.Received)
	}
	if snap.Disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", snap.Disconnects)
	}
	if snap.LastSeen != "TranslatedData" {
		t.Errorf("last_seen = %q, want TranslatedData", snap.LastSeen)
	}
}

func TestRecordKindIncrementsGlobalCounters(t *testing.T) {
	s := New()
	s.RecordKind(KindHeartbeat)
	s.RecordKind(KindHeartbeat)
	s.RecordKind(KindTranslatedData)

	if s.Heartbeats != 2 {
		t.Errorf("heartbeats = %d, want 2", s.Heartbeats)
	}
	if s.TranslatedData != 1 {
		t.Errorf("translated_data = %d, want 1", s.TranslatedData)
	}
}

func TestSnapshotOfUnseenDatalogIsZeroValue(t *testing.T) {
	s := New()
	snap := s.Snapshot("NEVER-SEEN")
	if snap.Received != 0 || snap.LastSeen != "" {
		t.Errorf("expected zero-value snapshot, got %+v", snap)
	}
}
