// Package lanlistener accepts inbound WebSocket peers on the host's
// configured LAN port, multiplexes frames from them to the host
// controller, and exposes a small operational HTTP surface on the same
// port: a health check, and a /sessions route that reports the connected
// peer count (it does not list session ids).
package lanlistener

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Icyoung/Blackhole/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outbound struct {
	data   []byte
	binary bool
}

// Peer is one accepted LAN WebSocket. It is a sink for broadcast output and
// a source of inbound frames, dispatched through the onFrame callback set
// by SetHandlers.
type Peer struct {
	conn   *websocket.Conn
	send   chan outbound
	once   sync.Once
	closed chan struct{}
}

func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn, send: make(chan outbound, 64), closed: make(chan struct{})}
}

// Send queues f for delivery to this peer only, preferring the binary
// encoding for types that support both. A full send buffer drops the peer
// rather than blocking the caller.
func (p *Peer) Send(f wire.Frame) {
	p.SendEncoded(f, true)
}

// SendEncoded is like Send but lets the caller choose the encoding for
// types that support both (ping/pong); see design note (c) on echoing the
// received encoding rather than normalizing it.
func (p *Peer) SendEncoded(f wire.Frame, preferBinary bool) {
	data, binaryMsg, err := wire.Encode(f, preferBinary)
	if err != nil {
		return
	}
	select {
	case p.send <- outbound{data: data, binary: binaryMsg}:
	default:
		p.Close()
	}
}

// Close disconnects the peer. Safe to call more than once.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// Listener is the LAN-facing WebSocket + HTTP server.
type Listener struct {
	log     zerolog.Logger
	token   string
	devMode bool

	mu        sync.Mutex
	peers     map[*Peer]bool
	server    *http.Server
	onConnect func(*Peer)
	onFrame   func(*Peer, wire.Frame, bool)
	onGone    func(*Peer)

	running bool
}

// Config controls how the listener authenticates its admin surface.
type Config struct {
	Token   string // required on /sessions when DevMode is false
	DevMode bool
}

// New constructs a Listener. Call SetHandlers before Start.
func New(cfg Config, log zerolog.Logger) *Listener {
	return &Listener{
		log:     log,
		token:   cfg.Token,
		devMode: cfg.DevMode,
		peers:   make(map[*Peer]bool),
	}
}

// SetHandlers wires the callbacks invoked when a peer connects, on every
// decoded inbound frame from it, and when it disconnects. Must be called
// before Start.
func (l *Listener) SetHandlers(onConnect func(*Peer), onFrame func(*Peer, wire.Frame, bool), onGone func(*Peer)) {
	l.onConnect = onConnect
	l.onFrame = onFrame
	l.onGone = onGone
}

// Start binds addr and begins accepting peers. Non-blocking; serving
// happens on a background goroutine.
func (l *Listener) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// The WS upgrade lives at the bare root: LAN mode dials the base URL
	// verbatim (ws://<host>:<port> with no path), per §4.6.
	router.GET("/", l.handleUpgrade)
	router.GET("/healthz", l.handleHealthz)
	router.GET("/sessions", l.handleSessions)

	l.server = &http.Server{Addr: addr, Handler: router}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.log.Error().Err(err).Msg("lan listener stopped unexpectedly")
		}
	}()
	return nil
}

// Stop closes every peer and shuts the HTTP server down.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.running = false
	peers := make([]*Peer, 0, len(l.peers))
	for p := range l.peers {
		peers = append(peers, p)
	}
	l.peers = make(map[*Peer]bool)
	srv := l.server
	l.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (l *Listener) handleUpgrade(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	peer := newPeer(conn)
	l.mu.Lock()
	l.peers[peer] = true
	l.mu.Unlock()

	go l.writePump(peer)
	if l.onConnect != nil {
		l.onConnect(peer)
	}
	l.readPump(peer)
}

func (l *Listener) readPump(p *Peer) {
	defer func() {
		l.mu.Lock()
		delete(l.peers, p)
		l.mu.Unlock()
		p.Close()
		if l.onGone != nil {
			l.onGone(p)
		}
	}()

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		wasBinary := msgType == websocket.BinaryMessage
		f, err := wire.Decode(data, wasBinary)
		if err != nil {
			continue // malformed/truncated frame: dropped silently
		}
		if l.onFrame != nil {
			l.onFrame(p, f, wasBinary)
		}
	}
}

func (l *Listener) writePump(p *Peer) {
	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			_ = p.conn.SetWriteDeadline(timeNow().Add(writeWait))
			msgType := websocket.TextMessage
			if msg.binary {
				msgType = websocket.BinaryMessage
			}
			if err := p.conn.WriteMessage(msgType, msg.data); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

// Broadcast sends f to every currently connected peer, dropping peers
// whose send buffer is full rather than blocking.
func (l *Listener) Broadcast(f wire.Frame) {
	l.mu.Lock()
	peers := make([]*Peer, 0, len(l.peers))
	for p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()
	for _, p := range peers {
		p.Send(f)
	}
}

// PeerCount reports how many LAN peers are currently connected.
func (l *Listener) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func (l *Listener) authorized(c *gin.Context) bool {
	if l.devMode || l.token == "" {
		return true
	}
	return c.Query("token") == l.token
}

func (l *Listener) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (l *Listener) handleSessions(c *gin.Context) {
	if !l.authorized(c) {
		c.String(http.StatusUnauthorized, "invalid token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer_count": l.PeerCount()})
}

var timeNow = time.Now
