package collector

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/resultstream/internal/testutil/testlog"
)

const sampleRun = `{"Time":"2026-01-02T03:04:05Z","Action":"start","Package":"example.com/m/a"}
{"Time":"2026-01-02T03:04:05Z","Action":"run","Package":"example.com/m/a","Test":"TestOK"}
{"Time":"2026-01-02T03:04:05Z","Action":"output","Package":"example.com/m/a","Test":"TestOK","Output":"=== RUN   TestOK\n"}
{"Time":"2026-01-02T03:04:06Z","Action":"pass","Package":"example.com/m/a","Test":"TestOK","Elapsed":1}
{"Time":"2026-01-02T03:04:06Z","Action":"run","Package":"example.com/m/a","Test":"TestBad"}
{"Time":"2026-01-02T03:04:06Z","Action":"output","Package":"example.com/m/a","Test":"TestBad","Output":"=== RUN   TestBad\n"}
{"Time":"2026-01-02T03:04:06Z","Action":"output","Package":"example.com/m/a","Test":"TestBad","Output":"    bad_test.go:12: want 1, got 2\n"}
{"Time":"2026-01-02T03:04:06Z","Action":"output","Package":"example.com/m/a","Test":"TestBad","Output":"--- FAIL: TestBad (0.50s)\n"}
{"Time":"2026-01-02T03:04:07Z","Action":"fail","Package":"example.com/m/a","Test":"TestBad","Elapsed":0.5}
not json at all
{"Time":"2026-01-02T03:04:07Z","Action":"fail","Package":"example.com/m/a","Elapsed":2}
{"Time":"2026-01-02T03:04:07Z","Action":"run","Package":"example.com/m/b","Test":"TestLater"}
{"Time":"2026-01-02T03:04:07Z","Action":"skip","Package":"example.com/m/b","Test":"TestLater","Elapsed":0}
{"Time":"2026-01-02T03:04:07Z","Action":"pass","Package":"example.com/m/b","Elapsed":0.1}
`

type recordingWriter struct {
	results []Result
	failOn  string
}

func (w *recordingWriter) WriteResult(result any) error {
	r := result.(Result)
	if w.failOn != "" && r.Name == w.failOn {
		return errors.New("write refused")
	}
	w.results = append(w.results, r)
	return nil
}

func TestStreamBuildsResults(t *testing.T) {
	testlog.Start(t)
	w := &recordingWriter{}
	var raw []string
	summary, err := Stream(context.Background(), strings.NewReader(sampleRun), w, Options{
		Raw: func(line string) { raw = append(raw, line) },
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(w.results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(w.results))
	}
	if len(raw) != 1 || raw[0] != "not json at all" {
		t.Fatalf("unexpected raw lines: %v", raw)
	}

	ok := w.results[0]
	if ok.Result != ResultPassed || ok.Identifier != "example.com/m/a.TestOK" || ok.Scope != "example.com/m/a" {
		t.Fatalf("unexpected pass result: %+v", ok)
	}
	if ok.History.Duration != time.Second {
		t.Fatalf("unexpected duration: %s", ok.History.Duration)
	}
	if !ok.History.EndAt.After(ok.History.StartAt) {
		t.Fatalf("history span not ordered: %+v", ok.History)
	}
	if ok.ID == "" || ok.ID == w.results[1].ID {
		t.Fatalf("ids must be unique and set: %q %q", ok.ID, w.results[1].ID)
	}

	bad := w.results[1]
	if bad.Result != ResultFailed {
		t.Fatalf("expected failed, got %q", bad.Result)
	}
	if bad.FailureReason != "bad_test.go:12: want 1, got 2" || bad.Location != "bad_test.go:12" {
		t.Fatalf("unexpected failure detail: %+v", bad)
	}
	if len(bad.FailureExpanded) != 1 {
		t.Fatalf("framing lines leaked into failure detail: %v", bad.FailureExpanded)
	}
	if w.results[2].Result != ResultSkipped {
		t.Fatalf("expected skipped, got %q", w.results[2].Result)
	}

	if summary.PackagesTotal != 2 || summary.PackagesFail != 1 || summary.PackagesPass != 1 {
		t.Fatalf("unexpected package counts: %+v", summary)
	}
	if summary.TestsRun != 3 || summary.TestsPass != 1 || summary.TestsFail != 1 || summary.TestsSkip != 1 {
		t.Fatalf("unexpected test counts: %+v", summary)
	}
	if summary.Sent != 3 || summary.WriteErrors != 0 {
		t.Fatalf("unexpected delivery counts: %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0] != "example.com/m/a.TestBad" {
		t.Fatalf("unexpected failures: %v", summary.Failures)
	}
}

func TestStreamCountsWriteErrors(t *testing.T) {
	testlog.Start(t)
	w := &recordingWriter{failOn: "TestBad"}
	summary, err := Stream(context.Background(), strings.NewReader(sampleRun), w, Options{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if summary.Sent != 2 || summary.WriteErrors != 1 {
		t.Fatalf("unexpected delivery counts: %+v", summary)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Stream(ctx, strings.NewReader(sampleRun), &recordingWriter{}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResultAsJSONScrubsInvalidUTF8(t *testing.T) {
	testlog.Start(t)
	r := Result{
		ID:              "id-1",
		Identifier:      "test for invalid character '\xC8'",
		Result:          ResultFailed,
		FailureExpanded: []string{"SELECT '\xC8'"},
		History: History{
			StartAt:  time.Unix(10, 0),
			EndAt:    time.Unix(12, 500_000_000),
			Duration: 2500 * time.Millisecond,
		},
	}
	raw, err := json.Marshal(r.AsJSON())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["identifier"] != "test for invalid character ''" {
		t.Fatalf("identifier not scrubbed: %q", out["identifier"])
	}
	expanded := out["failure_expanded"].([]any)
	if expanded[0] != "SELECT ''" {
		t.Fatalf("nested value not scrubbed: %q", expanded[0])
	}
	history := out["history"].(map[string]any)
	if history["start_at"] != 10.0 || history["end_at"] != 12.5 || history["duration"] != 2.5 {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestTrackerFinishWithoutRunUsesElapsed(t *testing.T) {
	testlog.Start(t)
	tr := NewTracker()
	tr.newID = func() string { return "fixed" }
	end := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
	res, done := tr.Observe(TestEvent{Time: end, Action: "pass", Package: "p", Test: "TestX", Elapsed: 2})
	if !done {
		t.Fatalf("expected finished result")
	}
	if res.ID != "fixed" || !res.History.StartAt.Equal(end.Add(-2*time.Second)) {
		t.Fatalf("unexpected result: %+v", res)
	}
}
