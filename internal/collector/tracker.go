package collector

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TestEvent mirrors one line of `go test -json` output.
type TestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

var (
	boundaryLinePrefix = regexp.MustCompile(`^(=== RUN|=== PAUSE|=== CONT|=== NAME|--- PASS:|--- FAIL:|--- SKIP:)`)
	packageLinePrefix  = regexp.MustCompile(`^(ok|FAIL|\?)\s+`)
	locationPattern    = regexp.MustCompile(`^([\w./-]+_test\.go:\d+)`)
)

type running struct {
	start  time.Time
	output []string
}

type packageStats struct {
	status string
}

// Summary is the rolled-up view of one run.
type Summary struct {
	PackagesTotal int
	PackagesPass  int
	PackagesFail  int
	TestsRun      int
	TestsPass     int
	TestsFail     int
	TestsSkip     int
	Failures      []string
	Sent          int
	WriteErrors   int
}

// Tracker folds test events into results. It is not safe for concurrent use.
type Tracker struct {
	newID   func() string
	now     func() time.Time
	tests   map[string]*running
	pkgs    map[string]*packageStats
	order   []string
	summary Summary
}

func NewTracker() *Tracker {
	return &Tracker{
		newID: uuid.NewString,
		now:   time.Now,
		tests: make(map[string]*running),
		pkgs:  make(map[string]*packageStats),
	}
}

// Observe records ev and returns a result when ev finishes a test.
func (t *Tracker) Observe(ev TestEvent) (Result, bool) {
	at := ev.Time
	if at.IsZero() {
		at = t.now()
	}
	if ev.Package != "" {
		if _, ok := t.pkgs[ev.Package]; !ok {
			t.pkgs[ev.Package] = &packageStats{}
			t.order = append(t.order, ev.Package)
		}
	}
	if ev.Test == "" {
		t.observePackage(ev)
		return Result{}, false
	}

	key := ev.Package + "\x00" + ev.Test
	switch ev.Action {
	case "run":
		t.summary.TestsRun++
		t.tests[key] = &running{start: at}
	case "output":
		if r, ok := t.tests[key]; ok {
			r.output = append(r.output, ev.Output)
		}
	case "pass", "fail", "skip":
		r, ok := t.tests[key]
		if !ok {
			r = &running{start: at.Add(-seconds(ev.Elapsed))}
		}
		delete(t.tests, key)
		return t.finish(ev, r, at), true
	}
	return Result{}, false
}

func (t *Tracker) observePackage(ev TestEvent) {
	ps, ok := t.pkgs[ev.Package]
	if !ok {
		return
	}
	switch ev.Action {
	case "pass":
		ps.status = "pass"
	case "fail":
		ps.status = "fail"
	case "skip":
		if ps.status == "" {
			ps.status = "skip"
		}
	}
}

func (t *Tracker) finish(ev TestEvent, r *running, end time.Time) Result {
	res := Result{
		ID:         t.newID(),
		Scope:      ev.Package,
		Name:       ev.Test,
		Identifier: ev.Package + "." + ev.Test,
		History: History{
			StartAt:  r.start,
			EndAt:    end,
			Duration: seconds(ev.Elapsed),
		},
	}
	switch ev.Action {
	case "pass":
		t.summary.TestsPass++
		res.Result = ResultPassed
	case "skip":
		t.summary.TestsSkip++
		res.Result = ResultSkipped
	case "fail":
		t.summary.TestsFail++
		t.summary.Failures = append(t.summary.Failures, res.Identifier)
		res.Result = ResultFailed
		res.FailureExpanded = detailLines(r.output)
		if len(res.FailureExpanded) > 0 {
			res.FailureReason = res.FailureExpanded[0]
		}
		for _, line := range res.FailureExpanded {
			if m := locationPattern.FindStringSubmatch(line); m != nil {
				res.Location = m[1]
				break
			}
		}
	}
	return res
}

// Summary returns counts so far. Packages without a terminal event count as passed.
func (t *Tracker) Summary() Summary {
	s := t.summary
	s.Failures = append([]string(nil), t.summary.Failures...)
	s.PackagesTotal = len(t.order)
	for _, pkg := range t.order {
		if t.pkgs[pkg].status == "fail" {
			s.PackagesFail++
		} else {
			s.PackagesPass++
		}
	}
	return s
}

// detailLines drops test2json framing and keeps what the test printed.
func detailLines(output []string) []string {
	out := make([]string, 0, len(output))
	for _, raw := range output {
		line := strings.TrimSpace(raw)
		if line == "" || line == "PASS" || line == "FAIL" {
			continue
		}
		if boundaryLinePrefix.MatchString(line) || packageLinePrefix.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
