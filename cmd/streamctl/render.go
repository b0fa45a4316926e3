package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/resultstream/internal/collector"
)

var (
	boundaryLinePrefix = regexp.MustCompile(`^(=== RUN|=== PAUSE|=== CONT|=== NAME|--- PASS:|--- FAIL:|--- SKIP:)`)
	packageLinePrefix  = regexp.MustCompile(`^(ok|FAIL|\?)\s+`)
)

// console prints a test run the way a developer reads it. Stderr lines
// arrive from a second goroutine, so writes are serialized.
type console struct {
	mu         sync.Mutex
	out        io.Writer
	modulePath string
	current    string
}

func newConsole(out io.Writer, modulePath string) *console {
	return &console{out: out, modulePath: modulePath}
}

func (c *console) event(ev collector.TestEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Package != "" && ev.Package != c.current {
		c.current = ev.Package
		fmt.Fprintf(c.out, "\nPackage: %s\n", relImportPath(c.modulePath, ev.Package))
	}
	switch ev.Action {
	case "run":
		if ev.Test != "" {
			fmt.Fprintf(c.out, "  [RUN ] %s\n", ev.Test)
		}
	case "pass", "fail", "skip":
		tag := strings.ToUpper(ev.Action)
		if ev.Test != "" {
			fmt.Fprintf(c.out, "  [%s] %s (%.2fs)\n", tag, ev.Test, ev.Elapsed)
			return
		}
		fmt.Fprintf(c.out, "[%s] package (%.2fs)\n", tag, ev.Elapsed)
	case "output":
		c.outputLine(ev.Output, ev.Test != "")
	}
}

func (c *console) outputLine(raw string, withinTest bool) {
	line := strings.TrimSpace(raw)
	if line == "" || line == "PASS" || line == "FAIL" {
		return
	}
	if boundaryLinePrefix.MatchString(line) || packageLinePrefix.MatchString(line) {
		return
	}
	prefix := "  |"
	if withinTest {
		prefix = "    |"
	}
	fmt.Fprintf(c.out, "%s %s\n", prefix, line)
}

func (c *console) raw(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "raw> %s\n", line)
}

func (c *console) stderr(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "stderr> %s\n", line)
}

func (c *console) summary(s collector.Summary, channel string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Summary")
	fmt.Fprintf(c.out, "  Packages: total=%d pass=%d fail=%d\n", s.PackagesTotal, s.PackagesPass, s.PackagesFail)
	fmt.Fprintf(c.out, "  Tests:    run=%d pass=%d fail=%d skip=%d\n", s.TestsRun, s.TestsPass, s.TestsFail, s.TestsSkip)
	fmt.Fprintf(c.out, "  Streamed: sent=%d errors=%d channel=%s\n", s.Sent, s.WriteErrors, channel)
	fmt.Fprintf(c.out, "  Duration: %s\n", elapsed.Round(time.Millisecond))
	if len(s.Failures) > 0 {
		fmt.Fprintln(c.out, "  Failed Tests:")
		for _, name := range s.Failures {
			fmt.Fprintf(c.out, "    - %s\n", name)
		}
	}
}

func relImportPath(modulePath string, importPath string) string {
	if modulePath != "" && importPath == modulePath {
		return "."
	}
	prefix := modulePath + "/"
	if modulePath != "" && strings.HasPrefix(importPath, prefix) {
		return strings.TrimPrefix(importPath, prefix)
	}
	return importPath
}
