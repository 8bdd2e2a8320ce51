package retry

import (
	"context"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type (
	llm struct {
		next capability.LLM
		cfg  Config
		opts []Option
	}

	tool struct {
		next capability.Tool
		cfg  Config
		opts []Option
	}
)

// WrapLLM returns an LLM capability that retries transient failures of next.
func WrapLLM(next capability.LLM, cfg Config, opts ...Option) capability.LLM {
	return &llm{next: next, cfg: cfg, opts: append([]Option{WithName("llm.complete")}, opts...)}
}

// WrapTool returns a Tool capability that retries transient failures of next.
func WrapTool(next capability.Tool, cfg Config, opts ...Option) capability.Tool {
	return &tool{next: next, cfg: cfg, opts: append([]Option{WithName("tool.execute")}, opts...)}
}

// Complete implements capability.LLM.
func (l *llm) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	var resp agent.LLMResponse
	err := Do(ctx, l.cfg, func(ctx context.Context) error {
		r, err := l.next.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, l.opts...)
	return resp, err
}

// Execute implements capability.Tool.
func (t *tool) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	var res agent.ToolResult
	err := Do(ctx, t.cfg, func(ctx context.Context) error {
		r, err := t.next.Execute(ctx, call)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, t.opts...)
	return res, err
}
