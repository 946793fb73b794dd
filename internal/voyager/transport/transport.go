// Package transport maintains the voyager's single outbound WebSocket to
// either a LAN host or a relay URL: connect URL construction, the
// Idle/Connecting/Open/Reconnecting state machine, heartbeat liveness, and
// reconnect with the host relay client's same backoff curve.
package transport

import (
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Icyoung/Blackhole/internal/wire"
)

// State is a node in the transport's connection state machine. Open
// subdivides logically into AwaitingSessionList and Ready, but both accept
// all frame types equivalently, so this package tracks only Open.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 20 * time.Second
	initialBackoff    = 2 * time.Second
	maxBackoff        = 10 * time.Second
)

type outbound struct {
	data   []byte
	binary bool
}

// Client is the voyager's single transport connection.
type Client struct {
	log zerolog.Logger

	baseURL *url.URL
	role    string // "voyager" for relay mode; empty for LAN mode (URL used verbatim)
	session string
	token   string

	onFrame       func(wire.Frame, bool)
	onStateChange func(State)

	mu             sync.Mutex
	state          State
	backoff        time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	shouldReconnect bool
	enabled        bool
	generation     int
	conn           *websocket.Conn
	send           chan outbound
	lastMessageAt  time.Time
}

// New constructs a transport client for baseURL. role should be "voyager"
// for relay mode, or empty for LAN mode, where the base URL is used
// verbatim with no query parameters appended.
func New(baseURL *url.URL, role, session, token string, log zerolog.Logger, onFrame func(wire.Frame, bool)) *Client {
	return &Client{
		log:            log,
		baseURL:        baseURL,
		role:           role,
		session:        session,
		token:          token,
		onFrame:        onFrame,
		backoffInitial: initialBackoff,
		backoffMax:     maxBackoff,
		backoff:        initialBackoff,
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

// Connect opens the socket and enables auto-reconnect on later loss.
func (c *Client) Connect() {
	c.mu.Lock()
	c.enabled = true
	c.shouldReconnect = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	c.setState(Connecting)
	go c.connectLoop(gen)
}

// Disconnect is a user-triggered disconnect: it clears should_reconnect so
// no reconnect is attempted, per §4.6.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.enabled = false
	c.shouldReconnect = false
	c.generation++
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(Idle)
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

func (c *Client) buildURL() string {
	if c.role == "" {
		return c.baseURL.String()
	}
	u := *c.baseURL
	q := u.Query()
	q.Set("role", c.role)
	if c.session != "" {
		q.Set("session", c.session)
	}
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) connectLoop(gen int) {
	for {
		c.mu.Lock()
		if !c.enabled || c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		target := c.buildURL()
		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("url", target).Msg("transport dial failed")
			if !c.waitBackoff(gen) {
				return
			}
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
		c.lastMessageAt = time.Now()
		c.mu.Unlock()

		c.setState(Open)
		c.SendEncoded(wire.Frame{Type: wire.TypeList}, false)

		stop := make(chan struct{})
		go c.writePump(conn, sendCh)
		go c.heartbeatLoop(conn, gen, stop)
		c.readPump(conn, sendCh)
		close(stop)

		c.mu.Lock()
		stillEnabled := c.enabled && c.generation == gen && c.shouldReconnect
		c.mu.Unlock()
		if !stillEnabled {
			return
		}
		c.setState(Reconnecting)
		if !c.waitBackoff(gen) {
			return
		}
	}
}

// waitBackoff sleeps the current backoff, then doubles it clamped to
// backoffMax, producing the 2,4,8,10,10... sequence from §5.
func (c *Client) waitBackoff(gen int) bool {
	c.mu.Lock()
	delay := c.backoff
	c.mu.Unlock()

	time.Sleep(delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.generation != gen || !c.shouldReconnect {
		return false
	}
	next := c.backoff * 2
	if next > c.backoffMax {
		next = c.backoffMax
	}
	c.backoff = next
	return true
}

// heartbeatLoop sends a ping every heartbeatInterval and forces a
// reconnect if heartbeatTimeout elapses with no inbound frame.
func (c *Client) heartbeatLoop(conn *websocket.Conn, gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			last := c.lastMessageAt
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			if time.Since(last) >= heartbeatTimeout {
				c.log.Warn().Dur("since_last_message", time.Since(last)).Msg("heartbeat timeout: closing and reconnecting")
				_ = conn.Close()
				return
			}
			c.SendEncoded(wire.Frame{Type: wire.TypePing}, true)
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn, sendCh chan outbound) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.send = nil
			close(sendCh)
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
		c.mu.Lock()
		c.lastMessageAt = time.Now()
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

// Send queues f for delivery, preferring the binary encoding for types
// that support both. A no-op when not connected.
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
