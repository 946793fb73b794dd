package lanlistener

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Icyoung/Blackhole/internal/wire"
)

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func dial(t *testing.T, addr string) *websocket.Conn {
	url := fmt.Sprintf("ws://%s/", addr)
	var conn *websocket.Conn
	var err error
	deadline := time.After(2 * time.Second)
	for {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		select {
		case <-deadline:
			t.Fatalf("dial %s: %v", url, err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestHandleUpgradeInvokesOnConnectAndOnFrame(t *testing.T) {
	addr := freeAddr(t)
	l := New(Config{}, zerolog.Nop())

	var mu sync.Mutex
	var connected bool
	var gotFrame wire.Frame
	frameCh := make(chan struct{}, 1)

	l.SetHandlers(
		func(p *Peer) { mu.Lock(); connected = true; mu.Unlock() },
		func(p *Peer, f wire.Frame, wasBinary bool) {
			mu.Lock()
			gotFrame = f
			mu.Unlock()
			frameCh <- struct{}{}
		},
		nil,
	)
	if err := l.Start(addr); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop(context.Background())

	conn := dial(t, addr)
	defer conn.Close()

	data, err := wire.EncodeJSON(wire.Frame{Type: wire.TypePing})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-frameCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if !connected {
		t.Fatal("onConnect was never called")
	}
	if gotFrame.Type != wire.TypePing {
		t.Fatalf("got frame type %v, want ping", gotFrame.Type)
	}
}

func TestBroadcastReachesAllConnectedPeers(t *testing.T) {
	addr := freeAddr(t)
	l := New(Config{}, zerolog.Nop())
	l.SetHandlers(nil, nil, nil)
	if err := l.Start(addr); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop(context.Background())

	a := dial(t, addr)
	defer a.Close()
	b := dial(t, addr)
	defer b.Close()

	deadline := time.After(2 * time.Second)
	for l.PeerCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("got %d peers, want 2", l.PeerCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	l.Broadcast(wire.Frame{Type: wire.TypeSessionClosed, SessionID: "s1"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f, err := wire.Decode(data, false)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.Type != wire.TypeSessionClosed || f.SessionID != "s1" {
			t.Fatalf("got %+v, want session_closed/s1", f)
		}
	}
}

func TestHealthzIsAlwaysUnauthenticated(t *testing.T) {
	addr := freeAddr(t)
	l := New(Config{Token: "secret"}, zerolog.Nop())
	l.SetHandlers(nil, nil, nil)
	if err := l.Start(addr); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestSessionsRequiresTokenUnlessDevMode(t *testing.T) {
	addr := freeAddr(t)
	l := New(Config{Token: "secret"}, zerolog.Nop())
	l.SetHandlers(nil, nil, nil)
	if err := l.Start(addr); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/sessions", addr))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401 without token", resp.StatusCode)
	}

	resp2, err := http.Get(fmt.Sprintf("http://%s/sessions?token=secret", addr))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200 with correct token", resp2.StatusCode)
	}
}

func TestPeerCloseTriggersOnGone(t *testing.T) {
	addr := freeAddr(t)
	l := New(Config{}, zerolog.Nop())

	goneCh := make(chan struct{}, 1)
	l.SetHandlers(nil, nil, func(p *Peer) { goneCh <- struct{}{} })
	if err := l.Start(addr); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop(context.Background())

	conn := dial(t, addr)
	conn.Close()

	select {
	case <-goneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("onGone was never called after peer disconnected")
	}
}
