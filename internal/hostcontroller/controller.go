// Package hostcontroller wires the session registry, the LAN listener,
// and the relay client together: it merges inbound frames from both
// transports into registry calls, and fans registry output back out to
// every current peer.
package hostcontroller

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Icyoung/Blackhole/internal/lanlistener"
	"github.com/Icyoung/Blackhole/internal/registry"
	"github.com/Icyoung/Blackhole/internal/relayclient"
	"github.com/Icyoung/Blackhole/internal/wire"
)

// AuditSink receives observational events; the audit package implements
// this, but the controller never imports it directly so it stays optional.
type AuditSink interface {
	Record(kind, peerKind, sessionID, detail string)
}

// Recorder receives the same bytes a session's PTY produces and consumes,
// purely for replay capture; the recorder package implements this.
type Recorder interface {
	Attach(sessionID string)
	Output(sessionID string, data []byte)
	Input(sessionID string, data []byte)
	Detach(sessionID string)
}

// Config controls how the controller's two transports bind and authenticate.
type Config struct {
	LANAddr    string   // empty disables the LAN listener
	RelayURL   *url.URL // nil disables the relay client
	RelayToken string
	DevMode    bool
	DefaultRows, DefaultCols uint16
	DefaultShell string
}

// Controller is the top-level host process object.
type Controller struct {
	log    zerolog.Logger
	cfg    Config
	reg    *registry.Registry
	lan    *lanlistener.Listener
	relay  *relayclient.Client
	audit  AuditSink
	record Recorder

	wg     sync.WaitGroup
	stopFn context.CancelFunc
}

// New constructs a Controller. driver is the PTY collaborator; audit and
// record are both optional and may be nil.
func New(driver registry.Driver, cfg Config, log zerolog.Logger, audit AuditSink, record Recorder) *Controller {
	c := &Controller{
		log:    log,
		cfg:    cfg,
		reg:    registry.New(driver),
		audit:  audit,
		record: record,
	}

	if cfg.LANAddr != "" {
		c.lan = lanlistener.New(lanlistener.Config{Token: cfg.RelayToken, DevMode: cfg.DevMode}, log)
		c.lan.SetHandlers(c.onLANConnect, c.onLANFrame, c.onLANGone)
	}
	if cfg.RelayURL != nil {
		c.relay = relayclient.New(cfg.RelayURL, cfg.RelayToken, log, c.onRelayFrame)
	}
	return c
}

// Start brings both transports up and subscribes to registry output. Any
// failure rolls back everything already started.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.stopFn = cancel

	c.wg.Add(1)
	go c.fanOutLoop(ctx)

	if c.lan != nil {
		if err := c.lan.Start(c.cfg.LANAddr); err != nil {
			cancel()
			return fmt.Errorf("hostcontroller: lan listener: %w", err)
		}
	}
	if c.relay != nil {
		c.relay.SetEnabled(true)
	}
	c.log.Info().Str("lan_addr", c.cfg.LANAddr).Bool("relay_enabled", c.relay != nil).Msg("host controller started")
	return nil
}

// Stop tears everything down in reverse order and kills all PTYs.
func (c *Controller) Stop(ctx context.Context) {
	if c.relay != nil {
		c.relay.Stop()
	}
	if c.lan != nil {
		_ = c.lan.Stop(ctx)
	}
	if c.stopFn != nil {
		c.stopFn()
	}
	c.reg.Shutdown()
	c.wg.Wait()
}

// fanOutLoop drains the registry's output/close events and broadcasts a
// STDOUT or session_closed frame to every current peer on both transports.
func (c *Controller) fanOutLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.reg.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case registry.EventOutput:
				if c.record != nil {
					c.record.Output(ev.SessionID, ev.Payload)
				}
				c.broadcast(wire.Frame{Type: wire.TypeStdout, SessionID: ev.SessionID, Payload: ev.Payload})
			case registry.EventClosed:
				if c.record != nil {
					c.record.Detach(ev.SessionID)
				}
				c.broadcast(wire.Frame{Type: wire.TypeSessionClosed, SessionID: ev.SessionID})
			}
		}
	}
}

func (c *Controller) broadcast(f wire.Frame) {
	if c.lan != nil {
		c.lan.Broadcast(f)
	}
	if c.relay != nil {
		c.relay.Send(f)
	}
}

// replySink is the minimal behavior the controller needs from whichever
// transport delivered an inbound frame, so the dispatch table below is
// written once and shared by both.
type replySink interface {
	SendEncoded(wire.Frame, bool)
}

func (c *Controller) onLANConnect(p *lanlistener.Peer) {
	p.Send(wire.Frame{Type: wire.TypeSessionList, Sessions: c.reg.List()})
	if c.audit != nil {
		c.audit.Record("connect", "lan", "", "")
	}
}

func (c *Controller) onLANGone(p *lanlistener.Peer) {
	if c.audit != nil {
		c.audit.Record("disconnect", "lan", "", "")
	}
}

func (c *Controller) onLANFrame(p *lanlistener.Peer, f wire.Frame, wasBinary bool) {
	c.dispatch(p, "lan", f, wasBinary)
}

func (c *Controller) onRelayFrame(f wire.Frame, wasBinary bool) {
	c.dispatch(c.relay, "relay", f, wasBinary)
}

// dispatch is the single inbound-frame handler shared by both transports,
// per §4.5.
func (c *Controller) dispatch(from replySink, peerKind string, f wire.Frame, wasBinary bool) {
	switch f.Type {
	case wire.TypePing:
		from.SendEncoded(wire.Frame{Type: wire.TypePong}, wasBinary)

	case wire.TypeList:
		from.SendEncoded(wire.Frame{Type: wire.TypeSessionList, Sessions: c.reg.List()}, wasBinary)

	case wire.TypeCreate:
		id, err := c.reg.Create(c.cfg.DefaultRows, c.cfg.DefaultCols, c.cfg.DefaultShell)
		if err != nil {
			if c.audit != nil {
				c.audit.Record("pty_error", peerKind, "", err.Error())
			}
			from.SendEncoded(wire.Frame{Type: wire.TypeError, Code: "spawn_failed", Message: err.Error()}, wasBinary)
			return
		}
		if c.record != nil {
			c.record.Attach(id)
		}
		// session_created uses the same scoping rule as list (§4.5): back
		// to the requester only, plus the relay per §4.4 — not a broadcast
		// to every LAN peer.
		from.SendEncoded(wire.Frame{Type: wire.TypeSessionCreated, SessionID: id}, wasBinary)
		if c.relay != nil && from != c.relay {
			c.relay.Send(wire.Frame{Type: wire.TypeSessionCreated, SessionID: id})
		}

	case wire.TypeClose:
		c.reg.Close(f.SessionID) // idempotent; unowned ids are silently dropped

	case wire.TypeStdin:
		if c.reg.Has(f.SessionID) {
			if c.record != nil {
				c.record.Input(f.SessionID, f.Payload)
			}
			_ = c.reg.Write(f.SessionID, f.Payload)
		}

	case wire.TypeResize:
		c.reg.Resize(f.SessionID, f.Rows, f.Cols) // unknown id ignored, per design note (a)

	case wire.TypeUnsupported:
		from.SendEncoded(wire.Frame{Type: wire.TypeError, Code: "unsupported_version", Message: "Unsupported protocol version"}, false)
		if peer, ok := from.(*lanlistener.Peer); ok {
			peer.Close()
		}
		if c.audit != nil {
			c.audit.Record("protocol_error", peerKind, "", "unsupported_version")
		}

	default:
		// unknown or control types the host never originates; ignored.
	}
}
