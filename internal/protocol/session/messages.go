package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeWelcome             = "welcome"
	TypeConfirmSubscription = "confirm_subscription"
	TypePing                = "ping"

	commandSubscribe    = "subscribe"
	commandMessage      = "message"
	actionRecordResults = "record_results"
)

var (
	ErrProtocol = errors.New("session: protocol mismatch")
	ErrTimeout  = errors.New("session: acknowledgment timed out")
)

// Message is one decoded frame from the ingestion service.
type Message map[string]any

func ParseMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

func (m Message) String() string {
	raw, err := json.Marshal(map[string]any(m))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(m))
	}
	return string(raw)
}

// VerifyWelcome accepts only {"type":"welcome"}.
func VerifyWelcome(m Message) error {
	if len(m) != 1 || m.Type() != TypeWelcome {
		return fmt.Errorf("%w: not a welcome: %s", ErrProtocol, m)
	}
	return nil
}

// VerifyConfirm accepts only {"type":"confirm_subscription","identifier":channel}.
func VerifyConfirm(m Message, channel string) error {
	identifier, ok := m["identifier"].(string)
	if len(m) != 2 || m.Type() != TypeConfirmSubscription || !ok || identifier != channel {
		return fmt.Errorf("%w: not a confirm for %q: %s", ErrProtocol, channel, m)
	}
	return nil
}

type subscribeCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

func newSubscribeCommand(channel string) subscribeCommand {
	return subscribeCommand{Command: commandSubscribe, Identifier: channel}
}

// JSONer is implemented by results whose wire form differs from the Go value.
type JSONer interface {
	AsJSON() any
}

// ResultEnvelope is the publish frame for one result. Data carries the
// record_results action encoded as a JSON string, not a nested object.
type ResultEnvelope struct {
	Identifier string `json:"identifier"`
	Command    string `json:"command"`
	Data       string `json:"data"`
}

type recordResults struct {
	Action  string `json:"action"`
	Results []any  `json:"results"`
}

func NewResultEnvelope(channel string, result any) (ResultEnvelope, error) {
	if j, ok := result.(JSONer); ok {
		result = j.AsJSON()
	}
	data, err := json.Marshal(recordResults{
		Action:  actionRecordResults,
		Results: []any{result},
	})
	if err != nil {
		return ResultEnvelope{}, fmt.Errorf("session: encode result: %w", err)
	}
	return ResultEnvelope{
		Identifier: channel,
		Command:    commandMessage,
		Data:       string(data),
	}, nil
}
