package session

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/resultstream/internal/protocol/socket"
	"github.com/rs/zerolog"
)

var (
	ErrURLRequired     = errors.New("session: url required")
	ErrTokenRequired   = errors.New("session: token required")
	ErrChannelRequired = errors.New("session: channel required")
)

// Config defines one session's endpoint, subscription, and handshake bound.
type Config struct {
	URL     string
	Token   string
	Channel string
	// Timeout bounds each of the welcome and confirm waits separately.
	Timeout time.Duration
	Socket  socket.Config
	Debug   *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Timeout: 20 * time.Second,
		Socket:  socket.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig().Timeout
	}
	c.Socket = c.Socket.WithDefaults()
	if c.Socket.Debug == nil {
		c.Socket.Debug = c.Debug
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrURLRequired
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrTokenRequired
	}
	if c.Channel == "" {
		return ErrChannelRequired
	}
	return nil
}
