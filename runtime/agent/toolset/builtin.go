package toolset

import (
	"context"
	"encoding/json"
	"time"

	"goa.design/agentkernel/runtime/agent"
)

// Built-in tool names.
const (
	ToolEcho = "echo"
	ToolNow  = "clock.now"
)

// Tags of the built-in tools.
const (
	TagBuiltin  = "builtin"
	TagReadOnly = "readonly"
)

// RegisterBuiltins adds the echo and clock tools. now defaults to time.Now.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if err := r.Register(agent.ToolSpec{
		Name:        ToolEcho,
		Description: "Returns the given text unchanged.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"],
			"additionalProperties": false
		}`),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return map[string]string{"text": in.Text}, nil
	}, Tags(TagBuiltin, TagReadOnly)); err != nil {
		return err
	}
	return r.Register(agent.ToolSpec{
		Name:        ToolNow,
		Description: "Returns the current UTC time in RFC 3339 format.",
		Schema:      json.RawMessage(`{"type": "object", "additionalProperties": false}`),
	}, func(context.Context, json.RawMessage) (any, error) {
		return map[string]string{"now": now().UTC().Format(time.RFC3339)}, nil
	}, Tags(TagBuiltin, TagReadOnly))
}
