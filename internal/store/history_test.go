package store

import (
	"path/filepath"
	"testing"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	h := NewHistory(db)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestHistory(t)

	id, err := h.StartSession("my-mix", "My Mix")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	results := []TrackResult{
		{SessionID: id, Title: "One", Artist: "A", Outcome: OutcomeDownloaded, SizeBytes: 5 << 20, StorageHash: "h1"},
		{SessionID: id, Title: "Two", Artist: "B", Outcome: OutcomeFailed, Detail: "no matching audio"},
		{SessionID: id, Title: "Three", Artist: "C", Outcome: OutcomeDeleted},
	}
	for _, r := range results {
		if err := h.RecordTrack(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.FinishSession(id, 1, 1, 1, false, 5<<20); err != nil {
		t.Fatal(err)
	}

	sessions, err := h.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != id || s.Downloaded != 1 || s.Failed != 1 || s.Deleted != 1 || s.Cancelled {
		t.Errorf("session = %+v", s)
	}
	if s.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	got, err := h.SessionResults(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(got))
	}
	if got[0].Title != "One" || got[1].Detail != "no matching audio" {
		t.Errorf("results = %+v", got)
	}
}

func TestRecentSessionsOrder(t *testing.T) {
	h := newTestHistory(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := h.StartSession("p", "P")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	sessions, err := h.RecentSessions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2 with limit", len(sessions))
	}
}

func TestTotalsByOutcome(t *testing.T) {
	h := newTestHistory(t)
	id, _ := h.StartSession("p", "P")

	for _, outcome := range []string{OutcomeDownloaded, OutcomeDownloaded, OutcomeFailed} {
		if err := h.RecordTrack(TrackResult{SessionID: id, Title: "T", Outcome: outcome}); err != nil {
			t.Fatal(err)
		}
	}

	totals, err := h.TotalsByOutcome()
	if err != nil {
		t.Fatal(err)
	}
	if totals[OutcomeDownloaded] != 2 || totals[OutcomeFailed] != 1 {
		t.Errorf("totals = %v", totals)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := InitDB(path)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Reopening runs migrations again; all must be no-ops
	db, err = InitDB(path)
	if err != nil {
		t.Fatalf("second InitDB failed: %v", err)
	}
	db.Close()
}
