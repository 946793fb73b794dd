// Package ptydriver is the concrete implementation of the external PTY
// contract the registry depends on: start_shell, write, resize, kill, plus
// an asynchronous output event. It is the one package in this repo allowed
// to know about os/exec and pseudo-terminals; everything above it only
// sees session ids and byte slices.
package ptydriver

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

const readBufferSize = 4096

type procSession struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File
}

// Driver spawns and manages PTY-backed child processes. The zero value is
// not usable; construct with New.
type Driver struct {
	mu       sync.Mutex
	sessions map[string]*procSession
	onOutput func(sessionID string, data []byte)
	onExit   func(sessionID string)
}

// New returns a Driver with no sessions yet.
func New() *Driver {
	return &Driver{sessions: make(map[string]*procSession)}
}

// SetOutputFunc registers the callback invoked on every PTY read. Must be
// called before StartShell; the registry does this at construction time.
func (d *Driver) SetOutputFunc(f func(string, []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOutput = f
}

// SetExitFunc registers the callback invoked once, when a session's child
// process exits or its PTY reader hits EOF.
func (d *Driver) SetExitFunc(f func(string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onExit = f
}

// StartShell spawns shell (or the platform default chain when empty) with
// the given initial size and returns a fresh session id.
func (d *Driver) StartShell(rows, cols uint16, shell string) (string, error) {
	name, args := shellCommand(shell)
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	sess := &procSession{id: id, cmd: cmd, ptmx: ptmx}

	d.mu.Lock()
	d.sessions[id] = sess
	d.mu.Unlock()

	go d.readLoop(sess)
	return id, nil
}

// readLoop runs on a dedicated goroutine per session, doing the blocking
// PTY read and handing bytes off via the output callback. On EOF/error it
// reaps the child, removes the session, and fires the exit callback
// exactly once.
func (d *Driver) readLoop(s *procSession) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.mu.Lock()
			cb := d.onOutput
			d.mu.Unlock()
			if cb != nil {
				cb(s.id, chunk)
			}
		}
		if err != nil {
			break
		}
	}

	_ = s.ptmx.Close()
	_ = s.cmd.Wait()

	d.mu.Lock()
	delete(d.sessions, s.id)
	cb := d.onExit
	d.mu.Unlock()
	if cb != nil {
		cb(s.id)
	}
}

var errUnknownSession = errors.New("ptydriver: unknown session")

// Write sends bytes to the session's PTY. Returns an error for an unknown
// id; the registry never calls Write for an id it hasn't registered.
func (d *Driver) Write(id string, data []byte) error {
	d.mu.Lock()
	s, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok {
		return errUnknownSession
	}
	_, err := s.ptmx.Write(data)
	return err
}

// Resize sets the PTY window size. Unknown id is a no-op, not an error —
// the registry already filters these before calling down.
func (d *Driver) Resize(id string, rows, cols uint16) error {
	d.mu.Lock()
	s, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill terminates the session's child process. Best-effort; killing an
// already-dead or unknown session is a no-op.
func (d *Driver) Kill(id string) error {
	d.mu.Lock()
	s, ok := d.sessions[id]
	d.mu.Unlock()
	if !ok || s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// shellCommand resolves the shell fallback chain from §6: on POSIX,
// $SHELL with login+interactive flags, falling back to bash then sh; on
// Windows, pwsh, then powershell, then cmd. An explicitly requested program
// runs as given, with no flags added.
func shellCommand(requested string) (string, []string) {
	if requested != "" {
		return requested, nil
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range []string{"pwsh", "powershell", "cmd"} {
			if path, err := exec.LookPath(candidate); err == nil {
				return path, nil
			}
		}
		return "cmd", nil
	}

	if sh := os.Getenv("SHELL"); sh != "" {
		if _, err := exec.LookPath(sh); err == nil {
			return sh, loginArgs(sh)
		}
	}
	for _, candidate := range []string{"bash", "sh"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, loginArgs(path)
		}
	}
	return "/bin/sh", nil
}

func loginArgs(shellPath string) []string {
	if runtime.GOOS == "windows" {
		return nil
	}
	return []string{"-l", "-i"}
}
