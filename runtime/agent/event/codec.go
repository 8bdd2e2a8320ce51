package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEnvelope is the JSON form of an Envelope. The event payload is
// discriminated by Type.
type wireEnvelope struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Source    string          `json:"source"`
	Clock     uint64          `json:"clock"`
	Timestamp time.Time       `json:"timestamp"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes an envelope to JSON.
func Encode(env Envelope) ([]byte, error) {
	if env.Event == nil {
		return nil, fmt.Errorf("encode envelope %s: missing event", env.ID)
	}
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", env.Event.Type(), err)
	}
	return json.Marshal(wireEnvelope{
		ID:        env.ID,
		SessionID: env.SessionID,
		Source:    env.Source,
		Clock:     env.Clock,
		Timestamp: env.Timestamp,
		Type:      env.Event.Type(),
		Payload:   payload,
	})
}

// Decode deserializes an envelope produced by Encode.
func Decode(b []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev, err := DecodeEvent(w.Type, w.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        w.ID,
		SessionID: w.SessionID,
		Source:    w.Source,
		Clock:     w.Clock,
		Timestamp: w.Timestamp,
		Event:     ev,
	}, nil
}

// DecodeEvent deserializes the payload of an event of type t.
func DecodeEvent(t Type, payload json.RawMessage) (KernelEvent, error) {
	switch t {
	case TypeUserMessage:
		return decodeAs[UserMessage](t, payload)
	case TypeLLMResult:
		return decodeAs[LLMResult](t, payload)
	case TypeToolResult:
		return decodeAs[ToolResult](t, payload)
	case TypeApprovalOutcome:
		return decodeAs[ApprovalOutcome](t, payload)
	case TypeWorkerResult:
		return decodeAs[WorkerResult](t, payload)
	case TypeIntentFailed:
		return decodeAs[IntentFailed](t, payload)
	case TypeShutdown:
		return decodeAs[Shutdown](t, payload)
	case TypeTick:
		return Tick{}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", t)
	}
}

func decodeAs[T KernelEvent](t Type, payload json.RawMessage) (KernelEvent, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return v, nil
}
