package worker

import (
	"context"
	"encoding/json"
	"strings"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/toolset"
)

// Coordination tool names.
const (
	ToolClaim = "coord.claim"
	ToolPost  = "coord.post"
	ToolRead  = "coord.read"

	coordPrefix = "coord."
)

// RegisterCoordTools registers the coordination tools on r. Notes are
// authored by author.
func RegisterCoordTools(r *toolset.Registry, b *Board, author string) error {
	if err := r.Register(agent.ToolSpec{
		Name:        ToolClaim,
		Description: "Claim a shared resource (a file, a module, a subtask) before working on it. Returns the owner; work on the resource only when claimed is true.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"resource": {"type": "string", "minLength": 1}},
			"required": ["resource"],
			"additionalProperties": false
		}`),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Resource string `json:"resource"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		owner, ok := b.Claim(author, in.Resource)
		return map[string]any{"resource": in.Resource, "owner": owner, "claimed": ok}, nil
	}); err != nil {
		return err
	}
	if err := r.Register(agent.ToolSpec{
		Name:        ToolPost,
		Description: "Post a progress or completion note visible to sibling workers.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tag": {"type": "string", "enum": ["progress", "done"]},
				"body": {"type": "string", "minLength": 1}
			},
			"required": ["tag", "body"],
			"additionalProperties": false
		}`),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Tag  string `json:"tag"`
			Body string `json:"body"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return b.Append(author, in.Tag, in.Body), nil
	}); err != nil {
		return err
	}
	return r.Register(agent.ToolSpec{
		Name:        ToolRead,
		Description: "Read coordination notes, optionally filtered by tag or limited to notes after a sequence number.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tag": {"type": "string"},
				"since": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}`),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Tag   string `json:"tag"`
			Since uint64 `json:"since"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		notes := b.Since(in.Since)
		if in.Tag != "" {
			filtered := notes[:0:0]
			for _, n := range notes {
				if n.Tag == in.Tag {
					filtered = append(filtered, n)
				}
			}
			notes = filtered
		}
		if notes == nil {
			notes = []Note{}
		}
		return map[string]any{"notes": notes}, nil
	})
}

// tools routes coordination calls to the worker's own registry and every
// other call to the shared tools.
type tools struct {
	coord  *toolset.Registry
	shared capability.Tool
}

func (t tools) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if t.coord != nil && strings.HasPrefix(call.Name, coordPrefix) {
		return t.coord.Execute(ctx, call)
	}
	if t.shared == nil {
		return agent.ToolResult{}, capability.NewToolError(call.Name, "no tools available to workers", nil)
	}
	return t.shared.Execute(ctx, call)
}
