package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/resultstream/internal/testutil/testlog"
)

type wireResult struct {
	ID string
}

func (r wireResult) AsJSON() any {
	return map[string]string{"id": r.ID, "result": "passed"}
}

func TestResultEnvelopeEncoding(t *testing.T) {
	testlog.Start(t)
	env, err := NewResultEnvelope("test-channel-1", map[string]any{"status": "passed"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"identifier":"test-channel-1","command":"message","data":"{\"action\":\"record_results\",\"results\":[{\"status\":\"passed\"}]}"}`
	if string(raw) != want {
		t.Fatalf("unexpected envelope:\n got %s\nwant %s", raw, want)
	}
}

func TestResultEnvelopeUsesJSONer(t *testing.T) {
	testlog.Start(t)
	env, err := NewResultEnvelope("c1", wireResult{ID: "abc"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	want := `{"action":"record_results","results":[{"id":"abc","result":"passed"}]}`
	if env.Data != want {
		t.Fatalf("unexpected data: %s", env.Data)
	}
}

func TestResultEnvelopeRejectsUnencodable(t *testing.T) {
	testlog.Start(t)
	if _, err := NewResultEnvelope("c1", make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestVerifyMessages(t *testing.T) {
	testlog.Start(t)
	if err := VerifyWelcome(Message{"type": "welcome"}); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if err := VerifyWelcome(nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("nil welcome should mismatch, got %v", err)
	}
	confirm := Message{"type": "confirm_subscription", "identifier": "c1"}
	if err := VerifyConfirm(confirm, "c1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := VerifyConfirm(confirm, "c2"); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if err := VerifyConfirm(Message{"type": "confirm_subscription", "identifier": 1.0}, "1"); !errors.Is(err, ErrProtocol) {
		t.Fatalf("non-string identifier should mismatch, got %v", err)
	}
}

func TestParseMessageRejectsNonObject(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseMessage([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for array payload")
	}
	m, err := ParseMessage([]byte(`{"type":"ping","message":1}`))
	if err != nil || m.Type() != TypePing {
		t.Fatalf("unexpected parse: %v %v", m, err)
	}
}
