package socket

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// SecurityMode selects how strictly transport settings are validated.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig customizes wss:// dialing. The zero value uses system trust.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
	Mutual             bool
	CertFile           string
	KeyFile            string
}

// DialFunc opens the raw TCP connection underneath the websocket.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config defines transport timeouts and limits.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ProcessingTimeout caps the cumulative time spent inside Handler.Handle
	// over the life of the connection.
	ProcessingTimeout time.Duration
	ReadBufferSize    int
	MaxMessageBytes   int64
	SecurityMode      SecurityMode
	TLS               TLSConfig
	Dial              DialFunc
	// Debug receives per-frame traffic traces. Nil disables them.
	Debug *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      15 * time.Second,
		ProcessingTimeout: 30 * time.Second,
		ReadBufferSize:    4096,
		MaxMessageBytes:   8 * 1024 * 1024,
		SecurityMode:      SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = d.ProcessingTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
