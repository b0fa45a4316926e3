package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/resultstream/internal/auth"
	"github.com/danmuck/resultstream/internal/observability"
	"github.com/danmuck/resultstream/internal/protocol/queue"
	"github.com/danmuck/resultstream/internal/protocol/socket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle. It is distinct from the socket state.
type State string

const (
	StateConstructing State = "constructing"
	StateReady        State = "ready"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// Session is one authenticated, subscribed stream to the ingestion service.
type Session struct {
	cfg   Config
	queue *queue.TimedQueue[Message]
	conn  *socket.Conn
	debug zerolog.Logger

	mu    sync.RWMutex
	state State
	// lost is set by Disconnected in any state, including mid-handshake.
	lost bool
}

// Open connects, waits for welcome, subscribes to cfg.Channel, and waits for
// the matching confirmation. It returns only a ready session.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newSession(cfg)
	start := time.Now()

	header := http.Header{}
	header.Set("Authorization", auth.TokenHeader(cfg.Token))
	conn, err := socket.Open(ctx, cfg.URL, header, s, cfg.Socket)
	if err != nil {
		s.setState(StateFailed)
		observability.RecordHandshake("connect_failed", time.Since(start))
		return nil, err
	}
	s.conn = conn

	if err := s.handshake(ctx); err != nil {
		_ = conn.Close()
		s.setState(StateFailed)
		observability.RecordHandshake("failed", time.Since(start))
		log.Warn().Err(err).Str("channel", cfg.Channel).Msg("session: handshake failed")
		return nil, err
	}
	if !s.markReady() {
		log.Warn().Str("channel", cfg.Channel).Msg("session: connection lost during handshake")
	}
	observability.RecordHandshake("ready", time.Since(start))
	log.Info().Str("url", conn.URL()).Str("channel", cfg.Channel).Msg("session: subscribed")
	return s, nil
}

func newSession(cfg Config) *Session {
	s := &Session{
		cfg:   cfg,
		queue: queue.New[Message](),
		debug: zerolog.Nop(),
		state: StateConstructing,
	}
	if cfg.Debug != nil {
		s.debug = *cfg.Debug
	}
	return s
}

func (s *Session) handshake(ctx context.Context) error {
	welcome, err := s.await(ctx, TypeWelcome)
	if err != nil {
		return err
	}
	if err := VerifyWelcome(welcome); err != nil {
		return err
	}
	if err := s.conn.Transmit(newSubscribeCommand(s.cfg.Channel)); err != nil {
		return err
	}
	confirm, err := s.await(ctx, TypeConfirmSubscription)
	if err != nil {
		return err
	}
	return VerifyConfirm(confirm, s.cfg.Channel)
}

func (s *Session) await(ctx context.Context, what string) (Message, error) {
	m, err := s.queue.Pop(ctx, s.cfg.Timeout)
	if errors.Is(err, queue.ErrTimeout) {
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrTimeout, what, err)
	}
	if err != nil {
		return nil, err
	}
	s.debug.Debug().Str("awaited", what).Stringer("message", m).Msg("session: popped")
	return m, nil
}

func (s *Session) Channel() string {
	return s.cfg.Channel
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conn exposes the underlying socket for state inspection.
func (s *Session) Conn() *socket.Conn {
	return s.conn
}

// markReady moves a constructing session to ready, or to disconnected when
// the socket already faulted.
func (s *Session) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost {
		s.state = StateDisconnected
		return false
	}
	s.state = StateReady
	return true
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// WriteResult publishes one result. Delivery is fire-and-forget: once the
// socket has been torn down the result is dropped and nil is returned.
func (s *Session) WriteResult(result any) error {
	env, err := NewResultEnvelope(s.cfg.Channel, result)
	if err != nil {
		return err
	}
	err = s.conn.Transmit(env)
	if errors.Is(err, socket.ErrClosed) {
		observability.RecordResultSent(false)
		s.debug.Debug().Str("channel", s.cfg.Channel).Msg("session: result dropped, connection closed")
		return nil
	}
	if err != nil {
		observability.RecordResultSent(false)
		return err
	}
	observability.RecordResultSent(s.conn.State() == socket.StateOpen)
	return nil
}

// Close tears down the socket. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateDisconnected {
		s.state = StateClosed
	}
	s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) Connected(c *socket.Conn) {
	s.debug.Debug().Str("url", c.URL()).Int("version", c.Version()).Msg("session: connected")
}

func (s *Session) Disconnected(c *socket.Conn) {
	s.mu.Lock()
	s.lost = true
	if s.state == StateReady {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	log.Warn().Str("url", c.URL()).Str("channel", s.cfg.Channel).Msg("session: disconnected")
}

// Handle decodes one payload and queues it unless it is an application ping.
// Undecodable payloads are logged and dropped.
func (s *Session) Handle(_ *socket.Conn, payload []byte) {
	m, err := ParseMessage(payload)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(payload)).Msg("session: dropping undecodable message")
		return
	}
	s.debug.Debug().Str("channel", s.cfg.Channel).Stringer("message", m).Msg("session: handle")
	if m.Type() == TypePing {
		return
	}
	s.queue.Push(m)
}
