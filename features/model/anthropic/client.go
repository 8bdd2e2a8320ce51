// Package anthropic implements capability.LLM on top of the Anthropic Claude
// Messages API using github.com/anthropics/anthropic-sdk-go. Runtime tool
// names are sanitized for the provider and translated back in responses, and
// SDK failures are classified into capability.LLMError kinds so the retry
// wrapper can tell transient failures from fatal ones.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/agentkernel/features/model/toolname"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is used when the request does not name a model.
		// Required.
		DefaultModel string
		// MaxTokens is used when the request does not bound the completion.
		// Defaults to 4096.
		MaxTokens int
		// Temperature is sent when positive.
		Temperature float64
	}

	// Client implements capability.LLM.
	Client struct {
		msg    MessagesClient
		model  string
		maxTok int
		temp   float64
	}
)

var _ capability.LLM = (*Client)(nil)

// New builds a client from the Anthropic messages service.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a Messages.New request.
func (c *Client) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	names, err := toolname.New(req.Tools)
	if err != nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	params, err := c.encodeRequest(req, names)
	if err != nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return agent.LLMResponse{}, classify(err)
	}
	return translateResponse(msg, names), nil
}

func (c *Client) encodeRequest(req agent.LLMRequest, names *toolname.Map) (sdk.MessageNewParams, error) {
	msgs, system, err := encodeMessages(req.Messages, names)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		system = append([]sdk.TextBlockParam{{Text: req.System}}, system...)
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	tools, err := encodeTools(req.Tools, names)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// encodeMessages converts the history. Consecutive tool messages are folded
// into one user message of tool_result blocks as the Messages API requires.
func encodeMessages(history []agent.Message, names *toolname.Map) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var (
		out     []sdk.MessageParam
		system  []sdk.TextBlockParam
		results []sdk.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range history {
		switch m.Role {
		case agent.RoleSystem:
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case agent.RoleTool:
			results = append(results, sdk.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case agent.RoleUser:
			flush()
			if m.Content != "" {
				out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}
		case agent.RoleAssistant:
			flush()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, argsOrEmpty(call.Args), names.Provider(call.Name)))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		default:
			return nil, nil, errors.New("unsupported message role " + string(m.Role))
		}
	}
	flush()
	if len(out) == 0 {
		return nil, nil, errors.New("at least one user or assistant message is required")
	}
	return out, system, nil
}

func encodeTools(specs []agent.ToolSpec, names *toolname.Map) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := sdk.ToolInputSchemaParam{}
		if len(spec.Schema) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(spec.Schema, &fields); err != nil {
				return nil, errors.New("tool " + spec.Name + " schema: " + err.Error())
			}
			schema.Properties = fields["properties"]
			if req, ok := fields["required"].([]any); ok {
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		u := sdk.ToolUnionParamOfTool(schema, names.Provider(spec.Name))
		if u.OfTool != nil && spec.Description != "" {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		tools = append(tools, u)
	}
	return tools, nil
}

func translateResponse(msg *sdk.Message, names *toolname.Map) agent.LLMResponse {
	var (
		resp agent.LLMResponse
		text []string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				text = append(text, block.Text)
			}
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID:   block.ID,
				Name: names.Canonical(block.Name),
				Args: argsOrEmpty(block.Input),
			})
		}
	}
	resp.Content = strings.Join(text, "\n")
	resp.Usage = agent.TokenUsage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	resp.StopReason = string(msg.StopReason)
	return resp
}

// classify maps SDK failures to LLMError kinds.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := http.StatusText(apiErr.StatusCode)
		if apiErr.Request != nil && apiErr.Response != nil {
			msg = apiErr.Error()
		}
		kind := capability.KindForStatus(apiErr.StatusCode)
		if kind == capability.LLMErrorInvalidRequest && strings.Contains(msg, "prompt is too long") {
			kind = capability.LLMErrorContextLength
		}
		return capability.NewLLMError(providerName, kind, apiErr.StatusCode, msg, err)
	}
	return capability.NewLLMError(providerName, capability.KindForError(err), 0, "", err)
}

func argsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
