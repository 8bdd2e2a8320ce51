// Package basic provides a tool policy that filters a toolset with optional
// allow/block lists and marks tools for human approval by tag. It covers
// deployments that want lightweight filtering without a policy service.
package basic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/toolset"
)

type (
	// Options configures the engine.
	Options struct {
		// AllowTags restricts tools to those carrying one of these tags.
		// Empty means no tag filter.
		AllowTags []string
		// BlockTags excludes tools carrying any of these tags.
		BlockTags []string
		// AllowTools allowlists tool names. Takes precedence over tags.
		AllowTools []string
		// BlockTools blocks tool names.
		BlockTools []string
		// ApprovalTags marks allowed tools carrying any of these tags as
		// requiring approval.
		ApprovalTags []string
		// Label names the engine in decisions; defaults to "basic".
		Label string
	}

	// Engine evaluates tool descriptions against the configured lists.
	Engine struct {
		allowTags    map[string]struct{}
		blockTags    map[string]struct{}
		allowTools   map[string]struct{}
		blockTools   map[string]struct{}
		approvalTags map[string]struct{}
		label        string
	}

	// Decision is the outcome of evaluating a toolset.
	Decision struct {
		// Tools are the specs of the allowed tools, in input order.
		Tools []agent.ToolSpec
		// RequireApproval lists the allowed tools that need approval,
		// sorted.
		RequireApproval []string
		// Blocked lists the rejected tool names, sorted.
		Blocked []string
		// Label is the engine label.
		Label string
	}

	guard struct {
		next    capability.Tool
		allowed map[string]struct{}
		label   string
	}
)

// ErrBlocked is wrapped by the error returned for calls to blocked tools.
var ErrBlocked = errors.New("tool blocked by policy")

// New builds an Engine. Names listed both as allowed and blocked are
// rejected.
func New(opts Options) (*Engine, error) {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	e := &Engine{
		allowTags:    toSet(opts.AllowTags),
		blockTags:    toSet(opts.BlockTags),
		allowTools:   toSet(opts.AllowTools),
		blockTools:   toSet(opts.BlockTools),
		approvalTags: toSet(opts.ApprovalTags),
		label:        label,
	}
	for name := range e.allowTools {
		if _, ok := e.blockTools[name]; ok {
			return nil, fmt.Errorf("tool %q is both allowed and blocked", name)
		}
	}
	return e, nil
}

// Decide evaluates tools.
func (e *Engine) Decide(tools []toolset.Description) Decision {
	d := Decision{Label: e.label}
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		name := t.Spec.Name
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !e.Allowed(name, t.Tags) {
			d.Blocked = append(d.Blocked, name)
			continue
		}
		d.Tools = append(d.Tools, t.Spec)
		if t.RequiresApproval || hasAny(e.approvalTags, t.Tags) {
			d.RequireApproval = append(d.RequireApproval, name)
		}
	}
	slices.Sort(d.RequireApproval)
	slices.Sort(d.Blocked)
	return d
}

// Allowed reports whether a tool with the given name and tags passes the
// lists. Blocks win over allows; explicit tool allows win over tag allows.
func (e *Engine) Allowed(name string, tags []string) bool {
	if _, blocked := e.blockTools[name]; blocked {
		return false
	}
	if hasAny(e.blockTags, tags) {
		return false
	}
	if len(e.allowTools) > 0 {
		_, ok := e.allowTools[name]
		return ok
	}
	if len(e.allowTags) > 0 {
		return hasAny(e.allowTags, tags)
	}
	return true
}

// Guard returns a capability.Tool that runs only the tools allowed by d and
// fails every other call with a non-transient *capability.ToolError.
func Guard(next capability.Tool, d Decision) capability.Tool {
	allowed := make(map[string]struct{}, len(d.Tools))
	for _, s := range d.Tools {
		allowed[s.Name] = struct{}{}
	}
	return &guard{next: next, allowed: allowed, label: d.Label}
}

func (g *guard) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if _, ok := g.allowed[call.Name]; !ok {
		return agent.ToolResult{}, capability.NewToolError(call.Name, "", fmt.Errorf("%w (%s)", ErrBlocked, g.label))
	}
	return g.next.Execute(ctx, call)
}

func hasAny(set map[string]struct{}, tags []string) bool {
	if len(set) == 0 {
		return false
	}
	for _, tag := range tags {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
