package coordinator

import (
	"testing"
	"time"

	"github.com/Icyoung/Blackhole/internal/wire"
)

type fakeSender struct {
	sent []wire.Frame
}

func (s *fakeSender) Send(f wire.Frame) { s.sent = append(s.sent, f) }

type fakeEmulator struct {
	written []byte
	cols, rows int
	failResize bool
}

func (e *fakeEmulator) Write(data []byte) { e.written = append(e.written, data...) }
func (e *fakeEmulator) Resize(cols, rows int) {
	e.cols, e.rows = cols, rows
}

func newTestCoordinator() (*Coordinator, *fakeSender) {
	sender := &fakeSender{}
	newEmu := func(cols, rows int) (Emulator, error) {
		return &fakeEmulator{}, nil
	}
	c := New(sender, newEmu, 80, 24)
	return c, sender
}

func TestSessionListEmptyTriggersCreate(t *testing.T) {
	c, sender := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionList, Sessions: []string{}})

	if len(sender.sent) != 1 || sender.sent[0].Type != wire.TypeCreate {
		t.Fatalf("got %+v, want a single create frame", sender.sent)
	}
}

func TestSessionListAdoptsFirstIDWhenNoneActive(t *testing.T) {
	c, _ := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionList, Sessions: []string{"a", "b"}})

	if c.ActiveSession() != "a" {
		t.Fatalf("got active %q, want a", c.ActiveSession())
	}
}

func TestSessionCreatedAppendsAndAdoptsIfNoneActive(t *testing.T) {
	c, _ := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionCreated, SessionID: "x"})

	if c.ActiveSession() != "x" {
		t.Fatalf("got active %q, want x", c.ActiveSession())
	}
	if len(c.Sessions()) != 1 || c.Sessions()[0] != "x" {
		t.Fatalf("got sessions %v, want [x]", c.Sessions())
	}
}

func TestSessionClosedSelectsNextRemaining(t *testing.T) {
	c, _ := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionList, Sessions: []string{"a", "b"}})
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionClosed, SessionID: "a"})

	if c.ActiveSession() != "b" {
		t.Fatalf("got active %q, want b", c.ActiveSession())
	}
}

func TestSessionClosedLastOneLeavesNoneActive(t *testing.T) {
	c, _ := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionCreated, SessionID: "only"})
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionClosed, SessionID: "only"})

	if c.ActiveSession() != "" {
		t.Fatalf("got active %q, want empty", c.ActiveSession())
	}
}

func TestStdoutWritesToEmulator(t *testing.T) {
	c, _ := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionCreated, SessionID: "s1"})
	c.HandleFrame(wire.Frame{Type: wire.TypeStdout, SessionID: "s1", Payload: []byte("hello\n")})

	emu := c.emulators["s1"].(*fakeEmulator)
	if string(emu.written) != "hello\n" {
		t.Fatalf("got %q, want hello\\n", emu.written)
	}
}

func TestResizeSendsOnceThenSkipsIdenticalMetrics(t *testing.T) {
	c, sender := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionCreated, SessionID: "s1"})
	sender.sent = nil // drop anything the session_created handling sent

	c.OnMetrics(800, 480, 10, 20)
	time.Sleep(300 * time.Millisecond)

	var resizeFrames int
	for _, f := range sender.sent {
		if f.Type == wire.TypeResize {
			resizeFrames++
		}
	}
	if resizeFrames != 1 {
		t.Fatalf("got %d resize frames, want 1", resizeFrames)
	}

	before := len(sender.sent)
	c.OnMetrics(800, 480, 10, 20) // identical metrics, no size change
	time.Sleep(300 * time.Millisecond)
	if len(sender.sent) != before {
		t.Fatalf("identical metrics tick sent %d new frames, want 0", len(sender.sent)-before)
	}
}

func TestComposeKeystrokeModifiers(t *testing.T) {
	if got := string(ComposeKeystroke("a", true, false, false)); got != "\x01" {
		t.Fatalf("ctrl+a: got %q, want \\x01", got)
	}
	if got := string(ComposeKeystroke("x", false, true, false)); got != "\x1bx" {
		t.Fatalf("alt+x: got %q, want \\x1bx", got)
	}
	if got := string(ComposeKeystroke("c", true, true, false)); got != "\x1b\x03" {
		t.Fatalf("ctrl+alt+c: got %q, want \\x1b\\x03", got)
	}
}

func TestComposeKeystrokeRewritesNewlineToCarriageReturn(t *testing.T) {
	if got := string(ComposeKeystroke("ls\n", false, false, false)); got != "ls\r" {
		t.Fatalf("got %q, want ls\\r", got)
	}
}

func TestSendKeystrokeClearsModifiersAfterTransmission(t *testing.T) {
	c, sender := newTestCoordinator()
	c.HandleFrame(wire.Frame{Type: wire.TypeSessionCreated, SessionID: "s1"})

	c.SetModifiers(Modifiers{Ctrl: true})
	c.SendKeystroke("a")
	c.SendKeystroke("a") // second send must not still have ctrl applied

	var stdinFrames []wire.Frame
	for _, f := range sender.sent {
		if f.Type == wire.TypeStdin {
			stdinFrames = append(stdinFrames, f)
		}
	}
	if len(stdinFrames) != 2 {
		t.Fatalf("got %d stdin frames, want 2", len(stdinFrames))
	}
	if string(stdinFrames[0].Payload) != "\x01" {
		t.Fatalf("first keystroke: got %q, want \\x01", stdinFrames[0].Payload)
	}
	if string(stdinFrames[1].Payload) != "a" {
		t.Fatalf("second keystroke: got %q, want plain a", stdinFrames[1].Payload)
	}
}
