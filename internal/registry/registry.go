// Package registry owns the host-side mapping from session id to PTY
// handle: create, close, list, write, resize, and the fan-in stream of PTY
// output and exit events that the host controller fans back out to peers.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// Driver is the external PTY collaborator this registry depends on. It is
// satisfied by the ptydriver package in this repo, but the registry never
// assumes anything about how shells are actually spawned.
type Driver interface {
	StartShell(rows, cols uint16, shell string) (sessionID string, err error)
	Write(sessionID string, data []byte) error
	Resize(sessionID string, rows, cols uint16) error
	Kill(sessionID string) error
	SetOutputFunc(func(sessionID string, data []byte))
	SetExitFunc(func(sessionID string))
}

// EventKind distinguishes the two things a session can report asynchronously.
type EventKind int

const (
	EventOutput EventKind = iota
	EventClosed
)

// Event is delivered on the registry's cold outputs stream. Output events
// for a single session preserve PTY-read order; no ordering is guaranteed
// between sessions, matching §4.2.
type Event struct {
	Kind      EventKind
	SessionID string
	Payload   []byte
}

type session struct {
	id      string
	running bool
	mu      sync.Mutex // serializes writes to this session's PTY
}

// Registry is the host-side session registry. It is safe for concurrent use.
type Registry struct {
	driver Driver
	events chan Event

	mu       sync.Mutex
	sessions map[string]*session
	order    []string // creation order; closed ids are filtered out of List
}

// New constructs a Registry backed by driver. events is buffered (256
// events) so a briefly slow consumer does not block a PTY reader; once the
// buffer is full, delivery blocks until the host controller drains it.
func New(driver Driver) *Registry {
	r := &Registry{
		driver:   driver,
		events:   make(chan Event, 256),
		sessions: make(map[string]*session),
	}
	driver.SetOutputFunc(r.deliverOutput)
	driver.SetExitFunc(r.deliverExit)
	return r
}

// Events is the registry's cold output/close stream.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Create spawns a new shell and registers it. create always returns a
// fresh id; there is no session reuse.
func (r *Registry) Create(rows, cols uint16, shell string) (string, error) {
	id, err := r.driver.StartShell(rows, cols, shell)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.sessions[id] = &session{id: id, running: true}
	r.order = append(r.order, id)
	r.mu.Unlock()
	return id, nil
}

// Close kills the session's PTY and removes it from the registry. Closing
// an id the registry does not own is a silent no-op — idempotent by design,
// per the distilled spec's explicit instruction to preserve that behavior.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.removeFromOrder(id)
	}
	r.mu.Unlock()
	if !ok || !s.running {
		return
	}
	_ = r.driver.Kill(id)
}

func (r *Registry) removeFromOrder(id string) {
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// List returns session ids in creation order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

var errUnknownSession = errors.New("registry: unknown session")

// Write serializes concurrent writers to the same session so the
// underlying PTY write appears atomic in caller order. Writing to an
// unknown session returns an error; callers drop the frame silently rather
// than surfacing it, per the frame-drop invariant in §3.
func (r *Registry) Write(id string, data []byte) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return errUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.driver.Write(id, data)
}

// Resize is a no-op (not an error) for an unknown session, per design note
// (a): resize for a session the host doesn't know is ignored, not inferred.
func (r *Registry) Resize(id string, rows, cols uint16) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.driver.Resize(id, rows, cols)
}

// deliverOutput is called by the driver's output callback. It must never
// block for long; the events channel is sized generously for that reason.
func (r *Registry) deliverOutput(id string, data []byte) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.events <- Event{Kind: EventOutput, SessionID: id, Payload: data}
}

// deliverExit is called once when the driver observes EOF/exit for id. It
// removes the session and emits a close event for the controller to turn
// into a session_closed frame.
func (r *Registry) deliverExit(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.removeFromOrder(id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.events <- Event{Kind: EventClosed, SessionID: id}
}

// Shutdown tears down every session. Used by the host controller's stop().
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.sessions = make(map[string]*session)
	r.order = nil
	r.mu.Unlock()

	sort.Strings(ids) // deterministic shutdown order, easier to log/debug
	for _, id := range ids {
		_ = r.driver.Kill(id)
	}
}
