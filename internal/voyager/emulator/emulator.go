// Package emulator is the default terminal-emulator adapter the voyager
// coordinator drives: a headless VT100/xterm state machine, so the
// coordinator is testable end-to-end without a real UI. Production
// embedders may supply their own adapter satisfying the same interface.
package emulator

import (
	"sync"

	"github.com/hinshun/vt10x"
)

// Emulator is the four-operation external collaborator the coordinator
// expects: write, an output callback, resize, and selection text.
type Emulator interface {
	Write(data []byte)
	Resize(cols, rows int)
	SelectionText() string
	OnOutput(func([]byte))
}

// VT10x wraps a headless vt10x.Terminal so the coordinator never needs a real
// rendering surface in tests or in a non-interactive embedder.
type VT10x struct {
	mu  sync.Mutex
	vt  vt10x.Terminal
	out func([]byte)
}

// New constructs a VT10x emulator sized to cols x rows.
func New(cols, rows int) (*VT10x, error) {
	vt := vt10x.New(vt10x.WithSize(cols, rows))
	return &VT10x{vt: vt}, nil
}

// Write feeds bytes into the emulator's state machine and, if an output
// callback is registered, forwards the same bytes to it. This models the
// pass-through rendering a real terminal view does: the emulator tracks
// screen state for SelectionText while the raw bytes still reach the UI.
func (e *VT10x) Write(data []byte) {
	e.mu.Lock()
	_, _ = e.vt.Write(data)
	cb := e.out
	e.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Resize changes the emulator's tracked screen dimensions. Idempotence for
// repeated identical sizes is the coordinator's responsibility, not this
// adapter's.
func (e *VT10x) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vt.Resize(cols, rows)
}

// SelectionText returns the full visible screen content. vt10x has no
// notion of a user-driven selection range, so this adapter treats
// "selection" as "everything currently on screen" — a defensible
// simplification for a headless stand-in, not a real emulator's behavior.
func (e *VT10x) SelectionText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vt.String()
}

// OnOutput registers the callback invoked with every byte slice written
// into the emulator.
func (e *VT10x) OnOutput(f func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = f
}
