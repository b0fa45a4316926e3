package socket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/resultstream/internal/testutil/cabletest"
	"github.com/danmuck/resultstream/internal/testutil/testlog"
	"github.com/danmuck/resultstream/internal/testutil/tlstest"
)

type recordingHandler struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	payloads     chan []byte
	handleDelay  time.Duration
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{payloads: make(chan []byte, 64)}
}

func (h *recordingHandler) Connected(*Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) Disconnected(*Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
}

func (h *recordingHandler) Handle(_ *Conn, payload []byte) {
	if h.handleDelay > 0 {
		time.Sleep(h.handleDelay)
	}
	h.payloads <- payload
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, h.disconnected
}

func (h *recordingHandler) next(t *testing.T) string {
	t.Helper()
	select {
	case p := <-h.payloads:
		return string(p)
	case <-time.After(2 * time.Second):
		t.Fatalf("no payload delivered to handler")
		return ""
	}
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not exit")
	}
}

func TestOpenMergesOriginWithCallerHeaders(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	h := newRecordingHandler()

	header := http.Header{}
	header.Set("Authorization", `Token token="abc"`)
	c, err := Open(context.Background(), srv.URL, header, h, DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if got := h.next(t); got != cabletest.Welcome {
		t.Fatalf("unexpected first payload: %s", got)
	}
	if c.State() != StateOpen {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if connected, _ := h.counts(); connected != 1 {
		t.Fatalf("expected one Connected, got %d", connected)
	}

	seen := srv.Headers()
	if len(seen) != 1 {
		t.Fatalf("expected one upgrade request, got %d", len(seen))
	}
	if got := seen[0].Get("Origin"); got != "http://127.0.0.1" {
		t.Fatalf("unexpected origin: %q", got)
	}
	if got := seen[0].Get("Authorization"); got != `Token token="abc"` {
		t.Fatalf("unexpected authorization: %q", got)
	}
	if got := seen[0].Get("Sec-Websocket-Version"); got != "13" {
		t.Fatalf("unexpected websocket version: %q", got)
	}
}

func TestCallerOriginOverridesComputedOrigin(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	header := http.Header{}
	header.Set("Origin", "https://collector.example")

	c, err := Open(context.Background(), srv.URL, header, newRecordingHandler(), DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if got := srv.Headers()[0].Get("Origin"); got != "https://collector.example" {
		t.Fatalf("caller origin not kept: %q", got)
	}
}

func TestOpenRejectedUpgradeSurfacesReason(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{
		RejectStatus: http.StatusUnauthorized,
		RejectReason: "invalid token",
	})
	_, err := Open(context.Background(), srv.URL, nil, newRecordingHandler(), DefaultConfig())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("handshake error should carry server reason: %v", err)
	}
}

func TestOpenConnectFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Open(context.Background(), "ws://"+addr+"/cable", nil, newRecordingHandler(), DefaultConfig())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	testlog.Start(t)
	_, err := Open(context.Background(), "http://127.0.0.1:1/cable", nil, newRecordingHandler(), DefaultConfig())
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	if _, err := Open(context.Background(), "ws://127.0.0.1:1/cable", nil, nil, DefaultConfig()); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
}

func TestOpenUpgradeIsBoundedByHandshakeTimeout(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// accept and never answer the upgrade
			defer conn.Close()
		}
	}()

	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	start := time.Now()
	_, err = Open(context.Background(), "ws://"+ln.Addr().String()+"/cable", nil, newRecordingHandler(), cfg)
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("expected ErrHandshake, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("upgrade was not bounded: %v", elapsed)
	}
}

type brokenPipeConn struct {
	net.Conn
	broken *atomic.Bool
}

func (c *brokenPipeConn) Write(p []byte) (int, error) {
	if c.broken.Load() {
		return 0, &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	}
	return c.Conn.Write(p)
}

func TestTransmitBrokenPipeIsAbsorbed(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	h := newRecordingHandler()

	var broken atomic.Bool
	cfg := DefaultConfig()
	cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &brokenPipeConn{Conn: conn, broken: &broken}, nil
	}

	c, err := Open(context.Background(), srv.URL, nil, h, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = h.next(t)

	broken.Store(true)
	if err := c.Transmit(map[string]string{"command": "message"}); err != nil {
		t.Fatalf("broken pipe should be absorbed, got %v", err)
	}
	waitDone(t, c)

	if _, disconnected := h.counts(); disconnected != 1 {
		t.Fatalf("expected exactly one Disconnected, got %d", disconnected)
	}
	if c.State() != StateError {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if err := c.Transmit(map[string]string{"command": "message"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after teardown, got %v", err)
	}
}

func TestReaderEndOfStreamSetsErrorState(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	h := newRecordingHandler()
	c, err := Open(context.Background(), srv.URL, nil, h, DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = h.next(t)

	srv.DropConnections()
	waitDone(t, c)

	if c.State() != StateError {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if _, disconnected := h.counts(); disconnected != 1 {
		t.Fatalf("expected one Disconnected, got %d", disconnected)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close after fault: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("close should still advance to closed, got %s", c.State())
	}
}

func TestProcessingTimeoutSetsTimedOut(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	h := newRecordingHandler()
	h.handleDelay = 40 * time.Millisecond

	cfg := DefaultConfig()
	cfg.ProcessingTimeout = 20 * time.Millisecond
	c, err := Open(context.Background(), srv.URL, nil, h, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	waitDone(t, c)

	if c.State() != StateTimedOut {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if _, disconnected := h.counts(); disconnected != 1 {
		t.Fatalf("expected one Disconnected, got %d", disconnected)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{})
	h := newRecordingHandler()
	c, err := Open(context.Background(), srv.URL, nil, h, DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = h.next(t)

	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	waitDone(t, c)

	if c.State() != StateClosed {
		t.Fatalf("unexpected state: %s", c.State())
	}
	if _, disconnected := h.counts(); disconnected != 0 {
		t.Fatalf("explicit close must not report Disconnected, got %d", disconnected)
	}
	if err := c.Transmit("late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestControlPingsAreAnsweredWithPong(t *testing.T) {
	testlog.Start(t)
	srv := cabletest.NewServer(t, cabletest.Behavior{ControlPings: 1})
	h := newRecordingHandler()
	c, err := Open(context.Background(), srv.URL, nil, h, DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	_ = h.next(t)

	if err := c.Transmit(map[string]string{"command": "subscribe", "identifier": "c1"}); err != nil {
		t.Fatalf("transmit subscribe: %v", err)
	}
	confirm := h.next(t)
	if !strings.Contains(confirm, "confirm_subscription") {
		t.Fatalf("unexpected payload: %s", confirm)
	}

	select {
	case data := <-srv.Pongs():
		if data != "hb-0" {
			t.Fatalf("unexpected pong payload: %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no pong received")
	}
	select {
	case p := <-h.payloads:
		t.Fatalf("ping frame leaked to handler: %s", p)
	default:
	}
}

func TestOpenSecureWithCustomCA(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.NewLocalServer(t)
	srv := cabletest.NewTLSServer(t, cabletest.Behavior{}, certs.CertFile, certs.KeyFile)

	cfg := DefaultConfig()
	cfg.TLS.CAFile = certs.CAFile
	h := newRecordingHandler()
	c, err := Open(context.Background(), srv.URL, nil, h, cfg)
	if err != nil {
		t.Fatalf("open wss: %v", err)
	}
	defer c.Close()
	if got := h.next(t); got != cabletest.Welcome {
		t.Fatalf("unexpected payload: %s", got)
	}
	if got := srv.Headers()[0].Get("Origin"); got != "https://127.0.0.1" {
		t.Fatalf("unexpected secure origin: %q", got)
	}

	_, err = Open(context.Background(), srv.URL, nil, newRecordingHandler(), DefaultConfig())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("untrusted certificate should fail as ErrConnect, got %v", err)
	}
}
