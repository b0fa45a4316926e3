package socket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/resultstream/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProtocolVersion is the Sec-WebSocket-Version sent on every upgrade.
const ProtocolVersion = 13

var (
	ErrHandlerRequired   = errors.New("socket: handler required")
	ErrUnsupportedScheme = errors.New("socket: unsupported url scheme")
	ErrConnect           = errors.New("socket: connect failed")
	ErrHandshake         = errors.New("socket: handshake failed")
	ErrTransmit          = errors.New("socket: transmit failed")
	ErrClosed            = errors.New("socket: connection closed")
	ErrReadTimeout       = errors.New("socket: handler processing time exceeded")
)

// Handler receives connection lifecycle callbacks and decoded text payloads.
// All calls except the first Connected come from the reader goroutine.
type Handler interface {
	Connected(c *Conn)
	Disconnected(c *Conn)
	Handle(c *Conn, payload []byte)
}

// Conn is one client websocket with a single background reader.
type Conn struct {
	cfg     Config
	handler Handler
	url     string
	ws      *websocket.Conn
	debug   zerolog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	state   stateCell
	done    chan struct{}
}

// Open dials rawURL, performs the upgrade handshake, and starts the reader.
func Open(ctx context.Context, rawURL string, header http.Header, handler Handler, cfg Config) (*Conn, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	cfg = cfg.WithDefaults()

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %w", ErrConnect, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if err := cfg.ValidateTransport(scheme); err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:     cfg,
		handler: handler,
		url:     u.String(),
		debug:   zerolog.Nop(),
		done:    make(chan struct{}),
	}
	if cfg.Debug != nil {
		c.debug = *cfg.Debug
	}

	// dialErr is set only by failures below the http upgrade.
	var dialErr error
	d := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.ReadBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := c.dialTCP(ctx, network, addr)
			if err != nil {
				dialErr = err
			}
			return conn, err
		},
	}
	if scheme == "wss" {
		tlsCfg, err := cfg.clientTLSConfig(u.Hostname())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}
		d.NetDialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := c.dialTLS(ctx, network, addr, tlsCfg)
			if err != nil {
				dialErr = err
			}
			return conn, err
		}
	}

	ws, resp, err := d.DialContext(ctx, c.url, upgradeHeader(u, header))
	if err != nil {
		if dialErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, dialErr)
		}
		return nil, handshakeError(err, resp)
	}
	ws.SetReadLimit(cfg.MaxMessageBytes)
	ws.SetPingHandler(c.replyPong)
	c.ws = ws
	c.state.advance(StateOpen)
	log.Debug().Str("url", c.url).Int("version", ProtocolVersion).Msg("socket: upgraded")

	go c.readLoop()

	if c.state.load() == StateOpen {
		c.handler.Connected(c)
	}
	return c, nil
}

func (c *Conn) State() State {
	return c.state.load()
}

// Done is closed once the reader goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Version() int {
	return ProtocolVersion
}

func (c *Conn) URL() string {
	return c.url
}

// Transmit writes v as one JSON text frame. A write that fails because the
// peer went away reports Disconnected, tears down, and returns nil.
func (c *Conn) Transmit(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrTransmit, err)
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()

	if err == nil {
		observability.RecordFrame("out", "text")
		c.debug.Debug().RawJSON("payload", payload).Msg("socket: sent")
		return nil
	}
	if isPeerClosed(err) {
		c.fail(StateError, err)
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransmit, err)
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once and after the reader has already faulted.
func (c *Conn) Close() error {
	defer c.state.advance(StateClosed)
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	if err == nil {
		observability.RecordFrame("out", "close")
	}
	c.release()
	if err != nil && !isPeerClosed(err) {
		return fmt.Errorf("%w: close frame: %w", ErrTransmit, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	var elapsed time.Duration
	for !c.closed.Load() {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(StateError, err)
			return
		}
		if kind != websocket.TextMessage {
			observability.RecordFrame("in", "binary")
			c.debug.Debug().Int("kind", kind).Int("bytes", len(payload)).Msg("socket: skipped non-text frame")
			continue
		}
		observability.RecordFrame("in", "text")
		c.debug.Debug().Bytes("payload", payload).Msg("socket: received")

		start := time.Now()
		c.handler.Handle(c, payload)
		elapsed += time.Since(start)
		if elapsed >= c.cfg.ProcessingTimeout {
			c.fail(StateTimedOut, fmt.Errorf("%w: %s", ErrReadTimeout, elapsed))
			return
		}
	}
}

// fail reports a fault once: notify, tear down, then record the state.
func (c *Conn) fail(state State, cause error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	log.Warn().Err(cause).Str("url", c.url).Str("state", state.String()).Msg("socket: disconnected")
	c.handler.Disconnected(c)
	c.release()
	c.state.advance(state)
	observability.RecordDisconnect(state.String())
}

func (c *Conn) release() {
	if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Str("url", c.url).Msg("socket: close underlying conn")
	}
}

func (c *Conn) replyPong(appData string) error {
	observability.RecordFrame("in", "ping")
	err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
	if err == nil {
		observability.RecordFrame("out", "pong")
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

func (c *Conn) dialTCP(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.cfg.Dial != nil {
		return c.cfg.Dial(ctx, network, addr)
	}
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	return dialer.DialContext(ctx, network, addr)
}

func (c *Conn) dialTLS(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	rawConn, err := c.dialTCP(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// upgradeHeader merges the computed Origin with caller headers; callers win.
func upgradeHeader(u *url.URL, extra http.Header) http.Header {
	origin := "http://"
	if strings.EqualFold(u.Scheme, "wss") {
		origin = "https://"
	}
	h := http.Header{}
	h.Set("Origin", origin+u.Hostname())
	for key, values := range extra {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

func handshakeError(err error, resp *http.Response) error {
	if !errors.Is(err, websocket.ErrBadHandshake) {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if resp == nil || resp.StatusCode == http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: invalid handshake", ErrHandshake)
	}
	reason := strings.TrimSpace(resp.Status)
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			reason = reason + ": " + msg
		}
	}
	if reason == "" {
		return fmt.Errorf("%w: invalid handshake", ErrHandshake)
	}
	return fmt.Errorf("%w: %s", ErrHandshake, reason)
}

func isPeerClosed(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent)
}
