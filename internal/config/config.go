package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/resultstream/internal/protocol/session"
	"github.com/danmuck/resultstream/internal/protocol/socket"
	"github.com/pelletier/go-toml/v2"
)

const (
	EnvToken          = "RESULTSTREAM_TOKEN"
	EnvLegacyToken    = "BUILDKITE_ANALYTICS_TOKEN"
	EnvDebugEnabled   = "RESULTSTREAM_DEBUG_ENABLED"
	EnvDebugFilepath  = "RESULTSTREAM_DEBUG_FILEPATH"
	DefaultChannelURL = "wss://analytics-api.buildkite.com/_cable"
)

var (
	ErrURLRequired     = errors.New("config: url required")
	ErrTokenRequired   = errors.New("config: token required")
	ErrChannelRequired = errors.New("config: channel required")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

// CollectorConfig is the on-disk schema for one streaming collector.
// Durations are Go duration strings such as "5s".
type CollectorConfig struct {
	URL                   string `toml:"url"`
	Token                 string `toml:"token"`
	Channel               string `toml:"channel"`
	HandshakeTimeout      string `toml:"handshake_timeout"`
	ConnectTimeout        string `toml:"connect_timeout"`
	WriteTimeout          string `toml:"write_timeout"`
	ProcessingTimeout     string `toml:"processing_timeout"`
	SecurityMode          string `toml:"security_mode"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSServerName         string `toml:"tls_server_name"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
	DebugEnabled          bool   `toml:"debug_enabled"`
	DebugFilepath         string `toml:"debug_filepath"`
	MetricsListenAddr     string `toml:"metrics_listen_addr"`
}

func DefaultCollectorConfig() CollectorConfig {
	sock := socket.DefaultConfig()
	return CollectorConfig{
		URL:               DefaultChannelURL,
		HandshakeTimeout:  session.DefaultConfig().Timeout.String(),
		ConnectTimeout:    sock.ConnectTimeout.String(),
		WriteTimeout:      sock.WriteTimeout.String(),
		ProcessingTimeout: sock.ProcessingTimeout.String(),
		SecurityMode:      string(socket.SecurityModeDevelopment),
	}
}

// LoadCollectorConfig decodes path strictly, fills defaults and env
// fallbacks, then validates.
func LoadCollectorConfig(path string) (CollectorConfig, error) {
	cfg := DefaultCollectorConfig()
	if err := loadToml(path, &cfg); err != nil {
		return CollectorConfig{}, err
	}
	cfg = cfg.WithEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return CollectorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// WithEnv fills the token and debug settings from the environment when the
// file left them unset.
func (c CollectorConfig) WithEnv(getenv func(string) string) CollectorConfig {
	if strings.TrimSpace(c.Token) == "" {
		c.Token = strings.TrimSpace(getenv(EnvToken))
	}
	if c.Token == "" {
		c.Token = strings.TrimSpace(getenv(EnvLegacyToken))
	}
	if !c.DebugEnabled {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(EnvDebugEnabled))); err == nil {
			c.DebugEnabled = v
		}
	}
	if strings.TrimSpace(c.DebugFilepath) == "" {
		c.DebugFilepath = strings.TrimSpace(getenv(EnvDebugFilepath))
	}
	return c
}

func (c CollectorConfig) Validate() error {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: parse url: %w", err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrTokenRequired
	}
	if c.Channel == "" {
		return ErrChannelRequired
	}
	sock, err := c.socketConfig()
	if err != nil {
		return err
	}
	return sock.ValidateTransport(strings.ToLower(u.Scheme))
}

// SessionConfig converts the file schema to a session.Config.
func (c CollectorConfig) SessionConfig() (session.Config, error) {
	if err := c.Validate(); err != nil {
		return session.Config{}, err
	}
	sock, _ := c.socketConfig()
	handshake, err := parseDuration("handshake_timeout", c.HandshakeTimeout)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		URL:     strings.TrimSpace(c.URL),
		Token:   strings.TrimSpace(c.Token),
		Channel: c.Channel,
		Timeout: handshake,
		Socket:  sock,
	}.WithDefaults(), nil
}

func (c CollectorConfig) socketConfig() (socket.Config, error) {
	sock := socket.Config{
		SecurityMode: socket.SecurityMode(strings.TrimSpace(c.SecurityMode)),
		TLS: socket.TLSConfig{
			CAFile:             strings.TrimSpace(c.TLSCAFile),
			ServerName:         strings.TrimSpace(c.TLSServerName),
			InsecureSkipVerify: c.TLSInsecureSkipVerify,
		},
	}
	var err error
	if _, err = parseDuration("handshake_timeout", c.HandshakeTimeout); err != nil {
		return socket.Config{}, err
	}
	if sock.ConnectTimeout, err = parseDuration("connect_timeout", c.ConnectTimeout); err != nil {
		return socket.Config{}, err
	}
	if sock.WriteTimeout, err = parseDuration("write_timeout", c.WriteTimeout); err != nil {
		return socket.Config{}, err
	}
	if sock.ProcessingTimeout, err = parseDuration("processing_timeout", c.ProcessingTimeout); err != nil {
		return socket.Config{}, err
	}
	return sock.WithDefaults(), nil
}

// parseDuration treats an empty value as unset.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidDuration, key, raw)
	}
	return d, nil
}
