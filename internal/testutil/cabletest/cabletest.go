// Package cabletest runs a scripted websocket ingestion endpoint that speaks
// the welcome/subscribe/confirm protocol for tests.
package cabletest

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/resultstream/internal/auth"
	"github.com/gorilla/websocket"
)

const Welcome = `{"type":"welcome"}`

// Behavior scripts how the endpoint answers one connection.
type Behavior struct {
	// Token, when set, is required in the Authorization header.
	Token        string
	RejectStatus int
	RejectReason string

	PingsBeforeWelcome int
	SkipWelcome        bool
	Welcome            string
	WelcomeDelay       time.Duration

	SkipConfirm bool
	// Confirm overrides the whole confirm payload.
	Confirm           string
	ConfirmIdentifier string
	ConfirmDelay      time.Duration

	// ControlPings are websocket ping frames sent right after confirm.
	ControlPings      int
	CloseAfterConfirm bool
}

// Server is one scripted endpoint.
type Server struct {
	URL string

	t        testing.TB
	srv      *httptest.Server
	behavior Behavior
	upgrader websocket.Upgrader

	mu      sync.Mutex
	headers []http.Header
	peers   []*peer

	received chan []byte
	pongs    chan string
	done     chan struct{}
	once     sync.Once
}

type peer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *peer) write(raw string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, []byte(raw))
}

func (p *peer) ping(data string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(time.Second))
}

func NewServer(t testing.TB, b Behavior) *Server {
	t.Helper()
	s := newServer(t, b)
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	s.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	t.Cleanup(s.Close)
	return s
}

// NewTLSServer serves wss:// with the given certificate pair.
func NewTLSServer(t testing.TB, b Behavior, certFile, keyFile string) *Server {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("load server cert: %v", err)
	}
	s := newServer(t, b)
	s.srv = httptest.NewUnstartedServer(http.HandlerFunc(s.serveHTTP))
	s.srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	s.srv.StartTLS()
	s.URL = "wss" + strings.TrimPrefix(s.srv.URL, "https")
	t.Cleanup(s.Close)
	return s
}

func newServer(t testing.TB, b Behavior) *Server {
	return &Server{
		t:        t,
		behavior: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		received: make(chan []byte, 256),
		pongs:    make(chan string, 16),
		done:     make(chan struct{}),
	}
}

func (s *Server) Close() {
	s.once.Do(func() {
		close(s.done)
		s.DropConnections()
		s.srv.Close()
	})
}

// Headers returns the upgrade request headers seen so far.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Header, len(s.headers))
	copy(out, s.headers)
	return out
}

func (s *Server) Received() <-chan []byte {
	return s.received
}

func (s *Server) Pongs() <-chan string {
	return s.pongs
}

// Next waits for the next message a client sent and decodes it.
func (s *Server) Next(t testing.TB, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case raw := <-s.received:
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode received message %q: %v", raw, err)
		}
		return out
	case <-time.After(timeout):
		t.Fatalf("no message received within %s", timeout)
		return nil
	}
}

// Send writes raw to every connected client.
func (s *Server) Send(raw string) {
	for _, p := range s.snapshotPeers() {
		if err := p.write(raw); err != nil {
			s.t.Logf("cabletest: send: %v", err)
		}
	}
}

// DropConnections closes client sockets without a close frame.
func (s *Server) DropConnections() {
	for _, p := range s.snapshotPeers() {
		_ = p.ws.Close()
	}
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, len(s.peers))
	copy(out, s.peers)
	return out
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	b := s.behavior
	if b.RejectStatus != 0 {
		http.Error(w, b.RejectReason, b.RejectStatus)
		return
	}
	if b.Token != "" {
		if err := auth.ValidateHeader(auth.StaticToken{Token: b.Token}, r.Header.Get("Authorization")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	defer ws.Close()

	ws.SetPongHandler(func(data string) error {
		select {
		case s.pongs <- data:
		default:
		}
		return nil
	})

	for i := 0; i < b.PingsBeforeWelcome; i++ {
		_ = p.write(fmt.Sprintf(`{"type":"ping","message":%d}`, 1700000000+i))
	}
	if !b.SkipWelcome {
		s.sleep(b.WelcomeDelay)
		welcome := b.Welcome
		if welcome == "" {
			welcome = Welcome
		}
		_ = p.write(welcome)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.received <- data:
		case <-s.done:
			return
		}

		var cmd struct {
			Command    string `json:"command"`
			Identifier string `json:"identifier"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command != "subscribe" || b.SkipConfirm {
			continue
		}
		s.sleep(b.ConfirmDelay)
		_ = p.write(s.confirm(cmd.Identifier))
		for i := 0; i < b.ControlPings; i++ {
			_ = p.ping(fmt.Sprintf("hb-%d", i))
		}
		if b.CloseAfterConfirm {
			return
		}
	}
}

func (s *Server) confirm(requested string) string {
	if s.behavior.Confirm != "" {
		return s.behavior.Confirm
	}
	identifier := requested
	if s.behavior.ConfirmIdentifier != "" {
		identifier = s.behavior.ConfirmIdentifier
	}
	payload, _ := json.Marshal(struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	}{Type: "confirm_subscription", Identifier: identifier})
	return string(payload)
}

func (s *Server) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-s.done:
	}
}
