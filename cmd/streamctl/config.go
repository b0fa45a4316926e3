package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/resultstream/internal/config"
)

type fileConfig struct {
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

// loadCollectorConfig overlays keys defined in path onto defaults, then fills
// env fallbacks. An empty path uses defaults and env only.
func loadCollectorConfig(path string, getenv func(string) string) (config.CollectorConfig, error) {
	cfg := config.DefaultCollectorConfig()
	if strings.TrimSpace(path) == "" {
		return cfg.WithEnv(getenv), nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.CollectorConfig{}, fmt.Errorf("load streamctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return config.CollectorConfig{}, fmt.Errorf("load streamctl config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = raw.Channel
	}
	if meta.IsDefined("handshake_timeout") {
		cfg.HandshakeTimeout = strings.TrimSpace(raw.HandshakeTimeout)
	}
	if meta.IsDefined("connect_timeout") {
		cfg.ConnectTimeout = strings.TrimSpace(raw.ConnectTimeout)
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = strings.TrimSpace(raw.WriteTimeout)
	}
	if meta.IsDefined("processing_timeout") {
		cfg.ProcessingTimeout = strings.TrimSpace(raw.ProcessingTimeout)
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = strings.TrimSpace(raw.SecurityMode)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.TLSCAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.TLSServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.TLSInsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	if meta.IsDefined("debug_enabled") {
		cfg.DebugEnabled = raw.DebugEnabled
	}
	if meta.IsDefined("debug_filepath") {
		cfg.DebugFilepath = strings.TrimSpace(raw.DebugFilepath)
	}
	if meta.IsDefined("metrics_listen_addr") {
		cfg.MetricsListenAddr = strings.TrimSpace(raw.MetricsListenAddr)
	}
	return cfg.WithEnv(getenv), nil
}

// applyFlagOverrides lets non-empty flags win over the file.
func applyFlagOverrides(cfg config.CollectorConfig, opts options) config.CollectorConfig {
	if v := strings.TrimSpace(opts.url); v != "" {
		cfg.URL = v
	}
	if opts.channel != "" {
		cfg.Channel = opts.channel
	}
	if v := strings.TrimSpace(opts.metricsAddr); v != "" {
		cfg.MetricsListenAddr = v
	}
	return cfg
}
