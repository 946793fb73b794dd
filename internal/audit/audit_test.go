package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Record("connect", "lan", "", "")
	l.Record("create", "lan", "sess1", "")
	l.Record("pty_error", "relay", "sess1", "spawn failed")

	events, err := l.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != "pty_error" || events[0].Detail != "spawn failed" {
		t.Fatalf("got %+v, want most recent pty_error first", events[0])
	}
}

func TestOpenOnMissingPathStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "new.db"))
	if err != nil {
		t.Fatalf("Open on nonexistent path: %v", err)
	}
	defer l.Close()

	events, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("got %d events on fresh db, want 0", len(events))
	}
}
