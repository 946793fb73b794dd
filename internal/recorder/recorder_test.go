package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAttachWritesHeaderThenEvents(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 80, 24)

	r.Attach("sess1")
	r.Input("sess1", []byte("ls\n"))
	r.Output("sess1", []byte("file.txt\n"))
	r.Detach("sess1")

	f, err := os.Open(filepath.Join(dir, "sess1.cast"))
	if err != nil {
		t.Fatalf("open cast file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected a header line")
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != 2 || h.Width != 80 || h.Height != 24 {
		t.Fatalf("got %+v, want version 2, 80x24", h)
	}

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d event lines, want 2", len(lines))
	}

	var first []interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if first[1] != "i" || first[2] != "ls\n" {
		t.Fatalf("got %v, want input event for ls\\n first", first)
	}
}

func TestOutputBeforeAttachIsIgnored(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 80, 24)

	r.Output("never-attached", []byte("noise"))

	if _, err := os.Open(filepath.Join(dir, "never-attached.cast")); err == nil {
		t.Fatal("expected no file for a session that was never attached")
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 80, 24)

	r.Attach("sess1")
	r.Detach("sess1")
	r.Detach("sess1") // must not panic on double detach
}
