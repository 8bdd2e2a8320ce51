// Package toolset provides a capability.Tool backed by a registry of named
// handlers. Tool arguments are validated against each tool's JSON schema
// before the handler runs, so handlers only see well-formed payloads.
package toolset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type (
	// Handler executes a tool with validated JSON arguments. The returned
	// value is encoded as the tool result content.
	Handler func(ctx context.Context, args json.RawMessage) (any, error)

	// Registry maps tool names to handlers. It is safe for concurrent use.
	Registry struct {
		mu    sync.RWMutex
		tools map[string]*entry
	}

	// Option configures a registered tool.
	Option func(*entry)

	// Description is a registered tool as seen by policies.
	Description struct {
		Spec             agent.ToolSpec
		Tags             []string
		RequiresApproval bool
	}

	entry struct {
		spec     agent.ToolSpec
		schema   *jsonschema.Schema
		handler  Handler
		approval bool
		tags     []string
	}
)

// RequiresApproval marks the tool as needing a human decision before each
// call.
func RequiresApproval() Option {
	return func(e *entry) { e.approval = true }
}

// Tags labels the tool, e.g. "readonly" or "destructive".
func Tags(tags ...string) Option {
	return func(e *entry) { e.tags = append(e.tags, tags...) }
}

// ErrUnknownTool is wrapped by the error returned for calls to unregistered
// tools.
var ErrUnknownTool = errors.New("unknown tool")

var _ capability.Tool = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. The schema, when set, is compiled eagerly so invalid
// schemas are reported at registration time.
func (r *Registry) Register(spec agent.ToolSpec, h Handler, opts ...Option) error {
	if spec.Name == "" {
		return errors.New("tool name is required")
	}
	if h == nil {
		return fmt.Errorf("tool %q: handler is required", spec.Name)
	}
	e := &entry{spec: spec, handler: h}
	for _, o := range opts {
		o(e)
	}
	if len(spec.Schema) > 0 {
		s, err := compile(spec.Name, spec.Schema)
		if err != nil {
			return fmt.Errorf("tool %q: %w", spec.Name, err)
		}
		e.schema = s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[spec.Name]; ok {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.tools[spec.Name] = e
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(spec agent.ToolSpec, h Handler, opts ...Option) {
	if err := r.Register(spec, h, opts...); err != nil {
		panic(err)
	}
}

// Specs returns the registered tool specs sorted by name.
func (r *Registry) Specs() []agent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]agent.ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		specs = append(specs, e.spec)
	}
	slices.SortFunc(specs, func(a, b agent.ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return specs
}

// Describe returns every registered tool sorted by name.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, Description{Spec: e.spec, Tags: slices.Clone(e.tags), RequiresApproval: e.approval})
	}
	slices.SortFunc(out, func(a, b Description) int { return strings.Compare(a.Spec.Name, b.Spec.Name) })
	return out
}

// ApprovalRequired returns the sorted names of the tools registered with
// RequiresApproval, suitable for kernel.Options.RequireApproval.
func (r *Registry) ApprovalRequired() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, e := range r.tools {
		if e.approval {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Execute validates the call arguments and runs the handler. Failures are
// *capability.ToolError values.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return agent.ToolResult{}, capability.NewToolError(call.Name, "", fmt.Errorf("%w %q", ErrUnknownTool, call.Name))
	}
	args := call.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	if e.schema != nil {
		if err := validate(e.schema, args); err != nil {
			return agent.ToolResult{}, capability.NewToolError(call.Name, "invalid arguments: "+err.Error(), err)
		}
	}
	out, err := e.handler(ctx, args)
	if err != nil {
		var te *capability.ToolError
		if errors.As(err, &te) {
			return agent.ToolResult{}, err
		}
		return agent.ToolResult{}, capability.NewToolError(call.Name, "", err)
	}
	content, err := encode(out)
	if err != nil {
		return agent.ToolResult{}, capability.NewToolError(call.Name, "encode result", err)
	}
	return agent.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

func encode(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case json.RawMessage:
		return val, nil
	case nil:
		return json.RawMessage(`null`), nil
	}
	return json.Marshal(v)
}

func compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

func validate(s *jsonschema.Schema, args json.RawMessage) error {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return s.Validate(v)
}
