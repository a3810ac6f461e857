package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "journal.db"), FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.UnixMilli(1_700_000_000_000)

	if err := s.StartSession("s1", "emulator-5554", start); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	s.WriteEvent(Entry{SessionID: "s1", Kind: "job_clicked", Text: "JustGrab RM20", Timestamp: start.UnixMilli() + 1})
	s.WriteEvent(Entry{SessionID: "s1", Kind: "job_accepted", Text: "JustGrab RM20", Timestamp: start.UnixMilli() + 2})

	if err := s.EndSession("s1", "booking confirmed", start.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.EventCount != 2 || sess.EndReason != "booking confirmed" || sess.DeviceID != "emulator-5554" {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.EndTime != start.Add(time.Minute).UnixMilli() {
		t.Errorf("end time: %d", sess.EndTime)
	}
}

func TestUnknownSession(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.EndSession("missing", "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	if err := s.StartSession("s1", "dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	for i, kind := range []string{"refresh", "job_clicked", "recovery"} {
		s.WriteEvent(Entry{SessionID: "s1", Kind: kind, Timestamp: int64(1000 + i)})
	}

	entries, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != "recovery" || entries[1].Kind != "job_clicked" {
		t.Errorf("unexpected entries %+v", entries)
	}
	if entries[0].ID == "" {
		t.Error("expected generated ID")
	}

	all, err := s.SessionEvents("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Kind != "refresh" {
		t.Errorf("unexpected session events %+v", all)
	}

	counts, err := s.KindCounts("s1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["refresh"] != 1 || counts["recovery"] != 1 || len(counts) != 3 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestFlushSkipsBadEvent(t *testing.T) {
	s := openTestStore(t)
	if err := s.StartSession("s1", "dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	s.WriteEvent(Entry{SessionID: "s1", Kind: "refresh", Timestamp: 1000})
	s.WriteEvent(Entry{SessionID: "gone", Kind: "job_clicked", Timestamp: 1001})
	s.WriteEvent(Entry{SessionID: "s1", Kind: "recovery", Timestamp: 1002})
	s.Flush()

	entries, err := s.SessionEvents("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Kind != "refresh" || entries[1].Kind != "recovery" {
		t.Errorf("valid events around the bad one should be kept, got %+v", entries)
	}
	recent, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("event for an unknown session should be dropped, got %+v", recent)
	}
}

func TestListSessionsAndCleanup(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	if err := s.StartSession("old", "dev", old); err != nil {
		t.Fatal(err)
	}
	s.WriteEvent(Entry{SessionID: "old", Kind: "refresh"})
	if err := s.EndSession("old", "disabled", old.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.StartSession("new", "dev", time.Now()); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" {
		t.Errorf("unexpected sessions %+v", sessions)
	}

	n, err := s.CleanupOldSessions(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if entries, _ := s.Recent(10); len(entries) != 0 {
		t.Errorf("events should cascade, got %+v", entries)
	}
}

func TestCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(Config{Path: path, FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartSession("s1", "dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	s.WriteEvent(Entry{SessionID: "s1", Kind: "refresh"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	reopened, err := Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	entries, err := reopened.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the buffered event to be persisted, got %d", len(entries))
	}
}

func TestInMemory(t *testing.T) {
	s, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if err := s.StartSession("s1", "dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}
