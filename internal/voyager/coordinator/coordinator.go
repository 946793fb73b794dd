// Package coordinator drives session lifecycle and the resize contract on
// the voyager side: reacting to session_list/session_created/
// session_closed/stdout frames, computing and debouncing resize frames
// from viewport metrics, and composing sticky keyboard modifiers into the
// bytes a PTY expects.
package coordinator

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Icyoung/Blackhole/internal/wire"
)

// Emulator is the per-session terminal-emulator collaborator the
// coordinator drives; satisfied by internal/voyager/emulator.VT10x or any
// embedder-supplied adapter.
type Emulator interface {
	Write(data []byte)
	Resize(cols, rows int)
}

// Sender is however the coordinator reaches the host: a transport.Client
// in production, a fake in tests.
type Sender interface {
	Send(wire.Frame)
}

// NewEmulator constructs a fresh per-session emulator. Injected so the
// coordinator never depends on a concrete emulator implementation.
type NewEmulator func(cols, rows int) (Emulator, error)

const resizeDebounce = 220 * time.Millisecond

// Coordinator owns the voyager's session list, active session, per-session
// emulators, and modifier flags. All of its exported methods are meant to
// be called from a single UI/event-loop goroutine; it does no internal
// locking beyond what's needed for the debounce timer.
type Coordinator struct {
	sender     Sender
	newEmu     NewEmulator
	defaultCols, defaultRows int

	sessions  []string
	active    string
	emulators map[string]Emulator

	ctrl, alt, meta bool

	mu           sync.Mutex
	debounce     *time.Timer
	lastSent     map[string][2]int // session -> (cols, rows)
	pendingCols, pendingRows int
	viewportWidth, viewportHeight float64
	cellWidth, cellHeight         float64
}

// New constructs a Coordinator. newEmu is called once per session the
// first time it needs a local emulator.
func New(sender Sender, newEmu NewEmulator, defaultCols, defaultRows int) *Coordinator {
	return &Coordinator{
		sender:      sender,
		newEmu:      newEmu,
		defaultCols: defaultCols,
		defaultRows: defaultRows,
		emulators:   make(map[string]Emulator),
		lastSent:    make(map[string][2]int),
	}
}

// ActiveSession reports the currently active session id, or "" if none.
func (c *Coordinator) ActiveSession() string { return c.active }

// Sessions reports the coordinator's current session list.
func (c *Coordinator) Sessions() []string {
	out := make([]string, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// HandleFrame dispatches one inbound host frame per §4.7.
func (c *Coordinator) HandleFrame(f wire.Frame) {
	switch f.Type {
	case wire.TypeSessionList:
		c.onSessionList(f.Sessions)
	case wire.TypeSessionCreated:
		c.onSessionCreated(f.SessionID)
	case wire.TypeSessionClosed:
		c.onSessionClosed(f.SessionID)
	case wire.TypeStdout:
		c.onStdout(f.SessionID, f.Payload)
	}
}

func (c *Coordinator) onSessionList(sessions []string) {
	c.sessions = append([]string(nil), sessions...)
	if len(c.sessions) == 0 {
		c.sender.Send(wire.Frame{Type: wire.TypeCreate})
		return
	}
	if !c.contains(c.active) {
		c.active = c.sessions[0]
	}
	c.ensureEmulator(c.active)
	c.scheduleResize()
}

func (c *Coordinator) onSessionCreated(id string) {
	if id == "" {
		return
	}
	if !c.contains(id) {
		c.sessions = append(c.sessions, id)
	}
	if c.active == "" {
		c.active = id
	}
	c.ensureEmulator(id)
	c.scheduleResize()
}

func (c *Coordinator) onSessionClosed(id string) {
	for i, sid := range c.sessions {
		if sid == id {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	delete(c.emulators, id)
	c.mu.Lock()
	delete(c.lastSent, id)
	c.mu.Unlock()
	if c.active == id {
		if len(c.sessions) > 0 {
			c.active = c.sessions[0]
		} else {
			c.active = ""
		}
	}
}

func (c *Coordinator) onStdout(id string, payload []byte) {
	emu := c.ensureEmulator(id)
	if emu == nil {
		return
	}
	emu.Write(decodeLenient(payload))
}

func decodeLenient(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	return []byte(strings.ToValidUTF8(string(b), string(utf8.RuneError)))
}

func (c *Coordinator) contains(id string) bool {
	for _, sid := range c.sessions {
		if sid == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) ensureEmulator(id string) Emulator {
	if id == "" {
		return nil
	}
	if emu, ok := c.emulators[id]; ok {
		return emu
	}
	emu, err := c.newEmu(c.defaultCols, c.defaultRows)
	if err != nil {
		return nil
	}
	c.emulators[id] = emu
	return emu
}

// OnMetrics feeds a new viewport/cell-metrics reading, per §4.7 steps 1-2.
// Triggers are orientation change, keyboard show/hide, tab bar show/hide,
// and active-session switch — all funnel through this one entry point.
// Debounced to a ~220ms quiescent window; notifications within that window
// collapse into the last one received.
func (c *Coordinator) OnMetrics(viewportWidth, viewportHeight, cellWidth, cellHeight float64) {
	c.mu.Lock()
	changed := absDiff(c.viewportWidth, viewportWidth) >= 0.5 || absDiff(c.viewportHeight, viewportHeight) >= 0.5
	c.viewportWidth, c.viewportHeight = viewportWidth, viewportHeight
	c.cellWidth, c.cellHeight = cellWidth, cellHeight
	if !changed {
		c.mu.Unlock()
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(resizeDebounce, c.applyResize)
	c.mu.Unlock()
}

// scheduleResize forces an immediate resize attempt, used on session
// lifecycle triggers (active-session switch, new session) rather than
// metrics changes, which already debounce via OnMetrics.
func (c *Coordinator) scheduleResize() {
	c.applyResize()
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// applyResize runs §4.7 steps 3-5: compute cols/rows, skip on non-layout,
// skip on no-change, otherwise resize the active emulator and send RESIZE.
func (c *Coordinator) applyResize() {
	c.mu.Lock()
	vw, vh, cw, ch := c.viewportWidth, c.viewportHeight, c.cellWidth, c.cellHeight
	c.mu.Unlock()

	if c.active == "" || cw <= 0 || ch <= 0 {
		return
	}
	cols := int(vw / cw)
	rows := int(vh / ch)
	if cols <= 0 || rows <= 0 {
		return
	}

	c.mu.Lock()
	last, ok := c.lastSent[c.active]
	c.mu.Unlock()
	if ok && last[0] == cols && last[1] == rows {
		return
	}

	emu := c.ensureEmulator(c.active)
	if emu == nil {
		return
	}
	// A panicking emulator resize is swallowed; last-sent stays intact so
	// the next tick retries.
	resized := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		emu.Resize(cols, rows)
		return true
	}()
	if !resized {
		return
	}

	c.mu.Lock()
	c.lastSent[c.active] = [2]int{cols, rows}
	c.mu.Unlock()

	c.sender.Send(wire.Frame{
		Type:      wire.TypeResize,
		SessionID: c.active,
		Rows:      uint16(rows),
		Cols:      uint16(cols),
	})
}

// Modifiers are the three sticky, one-shot flags the keystroke path
// composes before transmission.
type Modifiers struct {
	Ctrl, Alt, Meta bool
}

// SetModifiers arms the sticky flags for the next keystroke only.
func (c *Coordinator) SetModifiers(m Modifiers) {
	c.ctrl, c.alt, c.meta = m.Ctrl, m.Alt, m.Meta
}

// SendKeystroke composes the active modifiers into s per §4.6 and
// transmits it as a STDIN frame to the active session, then clears the
// modifiers regardless of outcome.
func (c *Coordinator) SendKeystroke(s string) {
	defer func() { c.ctrl, c.alt, c.meta = false, false, false }()
	if c.active == "" {
		return
	}
	c.sender.Send(wire.Frame{
		Type:      wire.TypeStdin,
		SessionID: c.active,
		Payload:   ComposeKeystroke(s, c.ctrl, c.alt, c.meta),
	})
}

// ComposeKeystroke applies the line-ending rewrite, then ctrl, then
// alt/meta, in that order, per §4.6. Exported so invariant 9 can be
// tested directly without a live Coordinator.
func ComposeKeystroke(s string, ctrl, alt, meta bool) []byte {
	s = strings.ReplaceAll(s, "\n", "\r")

	if ctrl {
		var b strings.Builder
		for _, r := range s {
			upper := r
			if r >= 'a' && r <= 'z' {
				upper = r - ('a' - 'A')
			}
			if upper >= 'A' && upper <= 'Z' {
				b.WriteRune(upper - 0x40)
			} else {
				b.WriteRune(r)
			}
		}
		s = b.String()
	}

	if alt || meta {
		var b strings.Builder
		for _, r := range s {
			b.WriteRune(0x1b)
			b.WriteRune(r)
		}
		s = b.String()
	}

	return []byte(s)
}
