package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/resultstream/internal/collector"
	"github.com/danmuck/resultstream/internal/logging"
	"github.com/danmuck/resultstream/internal/observability"
	"github.com/danmuck/resultstream/internal/protocol/session"
	"github.com/danmuck/resultstream/internal/tools"
	"github.com/rs/zerolog/log"
)

type options struct {
	mode        string
	pkg         string
	run         string
	configPath  string
	url         string
	channel     string
	metricsAddr string
}

func main() {
	opts := parseFlags()
	logging.ConfigureRuntime()
	observability.InitLogger("streamctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode, err := run(ctx, opts, os.Stdin, os.Stdout)
	stop()
	if err != nil {
		fatalf("%v", err)
	}
	os.Exit(exitCode)
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "run", "mode: run | stdin")
	flag.StringVar(&opts.pkg, "pkg", "./...", "package pattern(s), comma-separated or space-separated (run mode)")
	flag.StringVar(&opts.run, "run", "", "go test -run regex (run mode)")
	flag.StringVar(&opts.configPath, "config", "", "collector config path (toml)")
	flag.StringVar(&opts.url, "url", "", "ingestion websocket url (overrides config)")
	flag.StringVar(&opts.channel, "channel", "", "subscription channel (overrides config)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /health and /metrics on this address")
	flag.Parse()
	return opts
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) (int, error) {
	if opts.mode != "run" && opts.mode != "stdin" {
		return 1, fmt.Errorf("unknown mode %q (supported: run, stdin)", opts.mode)
	}
	cfg, err := loadCollectorConfig(opts.configPath, os.Getenv)
	if err != nil {
		return 1, err
	}
	cfg = applyFlagOverrides(cfg, opts)
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return 1, err
	}

	debug, debugCloser, err := logging.DebugSink(cfg.DebugEnabled, cfg.DebugFilepath)
	if err != nil {
		return 1, err
	}
	defer debugCloser.Close()
	sessCfg.Debug = &debug
	sessCfg.Socket.Debug = &debug

	if cfg.MetricsListenAddr != "" {
		shutdown := serveMetrics(cfg.MetricsListenAddr)
		defer shutdown()
	}

	sess, err := session.Open(ctx, sessCfg)
	if err != nil {
		return 1, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	modulePath := ""
	if opts.mode == "run" {
		if modulePath, err = tools.ModulePath(ctx, tools.ExecRunner{}); err != nil {
			log.Warn().Err(err).Msg("streamctl: module path unavailable")
		}
	}
	out := newConsole(stdout, modulePath)
	streamOpts := collector.Options{
		Observer: out.event,
		Raw:      out.raw,
		Debug:    &debug,
	}

	start := time.Now()
	var summary collector.Summary
	exitCode := 0
	switch opts.mode {
	case "stdin":
		summary, err = collector.Stream(ctx, stdin, sess, streamOpts)
		if err != nil {
			return 1, err
		}
		if summary.TestsFail > 0 || summary.PackagesFail > 0 {
			exitCode = 1
		}
	case "run":
		summary, exitCode, err = streamGoTest(ctx, opts, sess, streamOpts, out)
		if err != nil {
			return 1, err
		}
	}

	out.summary(summary, sess.Channel(), time.Since(start))
	if sess.State() == session.StateDisconnected {
		log.Warn().Str("channel", sess.Channel()).Msg("streamctl: connection lost before the run finished")
	}
	return exitCode, nil
}

func streamGoTest(ctx context.Context, opts options, w collector.ResultWriter, streamOpts collector.Options, out *console) (collector.Summary, int, error) {
	child, err := startGoTest(opts)
	if err != nil {
		return collector.Summary{}, 1, err
	}

	stderrDone := make(chan error, 1)
	go func() {
		stderrDone <- streamStderr(child.stderr, out.stderr)
	}()
	summary, streamErr := collector.Stream(ctx, child.stdout, w, streamOpts)
	if streamErr != nil {
		// unblock the child
		_, _ = io.Copy(io.Discard, child.stdout)
	}
	stderrErr := <-stderrDone
	exitCode, waitErr := child.wait()

	switch {
	case streamErr != nil:
		return summary, 1, streamErr
	case stderrErr != nil:
		return summary, 1, stderrErr
	case waitErr != nil:
		return summary, 1, waitErr
	}
	return summary, exitCode, nil
}

func serveMetrics(addr string) func() {
	logger := log.With().Str("component", "metrics").Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           observability.NewRouter(logger, "streamctl"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("streamctl: metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("streamctl: serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "streamctl: "+format+"\n", args...)
	os.Exit(1)
}
