package collector

import (
	"strings"
	"time"
)

const (
	ResultPassed  = "passed"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// History is the timing span of one test.
type History struct {
	StartAt  time.Time
	EndAt    time.Time
	Duration time.Duration
}

// Result is one finished test.
type Result struct {
	ID              string
	Scope           string
	Name            string
	Identifier      string
	Location        string
	Result          string
	FailureReason   string
	FailureExpanded []string
	History         History
}

type wireHistory struct {
	StartAt  float64 `json:"start_at"`
	EndAt    float64 `json:"end_at"`
	Duration float64 `json:"duration"`
}

type wireResult struct {
	ID              string      `json:"id"`
	Scope           string      `json:"scope"`
	Name            string      `json:"name"`
	Identifier      string      `json:"identifier"`
	Location        string      `json:"location,omitempty"`
	Result          string      `json:"result"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	FailureExpanded []string    `json:"failure_expanded"`
	History         wireHistory `json:"history"`
}

// AsJSON returns the wire form with every string scrubbed of invalid UTF-8.
// Timestamps are seconds since the Unix epoch.
func (r Result) AsJSON() any {
	expanded := make([]string, 0, len(r.FailureExpanded))
	for _, line := range r.FailureExpanded {
		expanded = append(expanded, scrub(line))
	}
	return wireResult{
		ID:              scrub(r.ID),
		Scope:           scrub(r.Scope),
		Name:            scrub(r.Name),
		Identifier:      scrub(r.Identifier),
		Location:        scrub(r.Location),
		Result:          r.Result,
		FailureReason:   scrub(r.FailureReason),
		FailureExpanded: expanded,
		History: wireHistory{
			StartAt:  epochSeconds(r.History.StartAt),
			EndAt:    epochSeconds(r.History.EndAt),
			Duration: r.History.Duration.Seconds(),
		},
	}
}

func scrub(s string) string {
	return strings.ToValidUTF8(s, "")
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}
