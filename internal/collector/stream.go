package collector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResultWriter accepts finished results. *session.Session satisfies it.
type ResultWriter interface {
	WriteResult(result any) error
}

// Options tune Stream.
type Options struct {
	// Observer, when set, sees every decoded event before it is tracked.
	Observer func(TestEvent)
	// Raw, when set, receives lines that are not test2json events.
	Raw   func(line string)
	Debug *zerolog.Logger
}

// Stream reads test2json lines from r until EOF or ctx is done, writing each
// finished test through w. A failed write is counted and logged; it does not
// stop the stream.
func Stream(ctx context.Context, r io.Reader, w ResultWriter, opts Options) (Summary, error) {
	debug := zerolog.Nop()
	if opts.Debug != nil {
		debug = *opts.Debug
	}
	tracker := NewTracker()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var sent, writeErrors int
	summarize := func() Summary {
		s := tracker.Summary()
		s.Sent = sent
		s.WriteErrors = writeErrors
		return s
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return summarize(), err
		}
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev TestEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			if opts.Raw != nil {
				opts.Raw(string(bytes.TrimSpace(line)))
			}
			continue
		}
		if opts.Observer != nil {
			opts.Observer(ev)
		}
		res, done := tracker.Observe(ev)
		if !done {
			continue
		}
		if err := w.WriteResult(res); err != nil {
			writeErrors++
			log.Warn().Err(err).Str("test", res.Identifier).Msg("collector: write result")
			continue
		}
		sent++
		debug.Debug().Str("test", res.Identifier).Str("result", res.Result).Msg("collector: sent")
	}
	return summarize(), sc.Err()
}
