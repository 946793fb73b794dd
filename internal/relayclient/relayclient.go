// Package relayclient maintains the host's single outbound WebSocket to an
// optional relay server: URL construction, the
// Disabled/Connecting/Connected/Reconnecting state machine, and doubling
// reconnect backoff.
package relayclient

import (
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Icyoung/Blackhole/internal/wire"
)

// State is a node in the relay client's connection state machine.
type State int

const (
	Disabled State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 10 * time.Second
)

type outbound struct {
	data   []byte
	binary bool
}

// Client is the host-side relay uplink. There is at most one per host
// controller.
type Client struct {
	log zerolog.Logger

	baseURL *url.URL
	token   string

	onFrame       func(wire.Frame, bool)
	onStateChange func(State)

	mu             sync.Mutex
	state          State
	sessionID      string
	backoff        time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	enabled        bool
	generation int // invalidates stale reconnect timers after Stop/restart
	conn       *websocket.Conn
	send       chan outbound
}

// New constructs a relay client for baseURL. onFrame receives every
// decoded frame except session_assigned, which this package handles
// internally.
func New(baseURL *url.URL, token string, log zerolog.Logger, onFrame func(wire.Frame, bool)) *Client {
	return &Client{
		log:            log,
		baseURL:        baseURL,
		token:          token,
		onFrame:        onFrame,
		backoff:        initialBackoff,
		backoffInitial: initialBackoff,
		backoffMax:     maxBackoff,
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (c *Client) OnStateChange(f func(State)) {
	c.mu.Lock()
	c.onStateChange = f
	c.mu.Unlock()
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID reports the id assigned by the relay, empty until assignment.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetEnabled(true) while disabled starts connecting. SetEnabled(false)
// cancels any pending reconnect, closes the socket, and goes Disabled.
func (c *Client) SetEnabled(enabled bool) {
	c.mu.Lock()
	wasEnabled := c.enabled
	c.enabled = enabled
	c.mu.Unlock()

	if enabled && !wasEnabled {
		c.mu.Lock()
		c.generation++
		gen := c.generation
		c.mu.Unlock()
		c.setState(Connecting)
		go c.connectLoop(gen)
	} else if !enabled && wasEnabled {
		c.Stop()
	}
}

// Stop cancels reconnects, closes the socket, and transitions to Disabled.
func (c *Client) Stop() {
	c.mu.Lock()
	c.enabled = false
	c.generation++ // invalidate any in-flight reconnect timer
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(Disabled)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// buildURL copies the base URL's query parameters and appends
// role=horizon, an optional token, and — only on reconnect — the
// previously assigned session id.
func (c *Client) buildURL(reconnect bool) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("role", "horizon")
	if c.token != "" {
		q.Set("token", c.token)
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if reconnect && sessionID != "" {
		q.Set("session", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) connectLoop(gen int) {
	reconnect := false
	for {
		c.mu.Lock()
		if !c.enabled || c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		target := c.buildURL(reconnect)
		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("url", target).Msg("relay dial failed")
			if !c.waitBackoff(gen) {
				return
			}
			reconnect = true
			continue
		}

		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		sendCh := make(chan outbound, 64)
		c.conn = conn
		c.send = sendCh
		c.backoff = c.backoffInitial
		c.mu.Unlock()

		c.setState(Connected)
		go c.writePump(conn, sendCh)
		c.readPump(conn, sendCh)

		c.mu.Lock()
		stillEnabled := c.enabled && c.generation == gen
		c.mu.Unlock()
		if !stillEnabled {
			return
		}
		c.setState(Reconnecting)
		if !c.waitBackoff(gen) {
			return
		}
		reconnect = true
	}
}

// waitBackoff sleeps the current backoff, then doubles it clamped to
// maxBackoff, per the 2,4,8,10,10... sequence in §5. Returns false if the
// client was stopped or restarted while waiting.
func (c *Client) waitBackoff(gen int) bool {
	c.mu.Lock()
	delay := c.backoff
	c.mu.Unlock()

	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.generation != gen {
		return false
	}
	next := c.backoff * 2
	if next > c.backoffMax {
		next = c.backoffMax
	}
	c.backoff = next
	return true
}

func (c *Client) readPump(conn *websocket.Conn, sendCh chan outbound) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.send = nil
			close(sendCh) // closing while holding c.mu: no Send() call can observe a stale, about-to-close channel
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		wasBinary := msgType == websocket.BinaryMessage
		f, err := wire.Decode(data, wasBinary)
		if err != nil {
			continue
		}
		if f.Type == wire.TypeSessionAssigned {
			c.mu.Lock()
			c.sessionID = f.SessionID
			c.mu.Unlock()
			continue
		}
		c.mu.Lock()
		cb := c.onFrame
		c.mu.Unlock()
		if cb != nil {
			cb(f, wasBinary)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, sendCh chan outbound) {
	for msg := range sendCh {
		msgType := websocket.TextMessage
		if msg.binary {
			msgType = websocket.BinaryMessage
		}
		if err := conn.WriteMessage(msgType, msg.data); err != nil {
			return
		}
	}
}

// Send queues f for delivery on the relay uplink, preferring the binary
// encoding for types that support both. A no-op when not connected.
func (c *Client) Send(f wire.Frame) {
	c.SendEncoded(f, true)
}

// SendEncoded is like Send but lets the caller choose the encoding for
// ping/pong; see design note (c) on echoing the received encoding.
func (c *Client) SendEncoded(f wire.Frame, preferBinary bool) {
	data, binaryMsg, err := wire.Encode(f, preferBinary)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return
	}
	select {
	case c.send <- outbound{data: data, binary: binaryMsg}:
	default:
	}
}

// Connected reports whether the uplink currently has an open socket.
func (c *Client) Connected() bool {
	return c.State() == Connected
}
