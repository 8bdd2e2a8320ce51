// Package openai implements capability.LLM on top of the OpenAI Chat
// Completions API using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentkernel/features/model/toolname"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

const providerName = "openai"

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	// MaxTokens is used when the request does not bound the completion.
	MaxTokens int
}

// Client implements capability.LLM via the OpenAI Chat Completions API.
type Client struct {
	chat   ChatClient
	model  string
	maxTok int
}

var _ capability.LLM = (*Client)(nil)

// New builds an OpenAI backed client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel, maxTok: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default go-openai HTTP client.
// A non-empty baseURL targets an OpenAI compatible endpoint.
func NewFromAPIKey(apiKey, baseURL, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(Options{Client: openai.NewClientWithConfig(cfg), DefaultModel: defaultModel})
}

// Complete renders a chat completion.
func (c *Client) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	if len(req.Messages) == 0 {
		err := errors.New("messages are required")
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	names, err := toolname.New(req.Tools)
	if err != nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	request := openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  encodeMessages(req, names),
		MaxTokens: maxTokens,
		Tools:     encodeTools(req.Tools, names),
	}
	response, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return agent.LLMResponse{}, classify(err)
	}
	return translateResponse(response, names), nil
}

func encodeMessages(req agent.LLMRequest, names *toolname.Map) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case agent.RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = names.Provider(m.Name)
		case agent.RoleAssistant:
			for _, call := range m.ToolCalls {
				args := string(call.Args)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      names.Provider(call.Name),
						Arguments: args,
					},
				})
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func encodeTools(specs []agent.ToolSpec, names *toolname.Map) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		params := spec.Schema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        names.Provider(spec.Name),
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func translateResponse(resp openai.ChatCompletionResponse, names *toolname.Map) agent.LLMResponse {
	var (
		out  agent.LLMResponse
		text []string
	)
	for _, choice := range resp.Choices {
		msg := choice.Message
		if msg.Content != "" {
			text = append(text, msg.Content)
		}
		for _, call := range msg.ToolCalls {
			args := json.RawMessage(call.Function.Arguments)
			if !json.Valid(args) {
				raw, _ := json.Marshal(map[string]string{"raw": call.Function.Arguments})
				args = raw
			}
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
				ID:   call.ID,
				Name: names.Canonical(call.Function.Name),
				Args: args,
			})
		}
	}
	out.Content = strings.Join(text, "\n")
	out.Usage = agent.TokenUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if len(resp.Choices) > 0 {
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out
}

// classify maps go-openai failures to LLMError kinds.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := capability.KindForStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			kind = capability.LLMErrorContextLength
		}
		return capability.NewLLMError(providerName, kind, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		kind := capability.KindForStatus(reqErr.HTTPStatusCode)
		if kind == capability.LLMErrorUnknown {
			kind = capability.KindForError(err)
		}
		return capability.NewLLMError(providerName, kind, reqErr.HTTPStatusCode, "", err)
	}
	return capability.NewLLMError(providerName, capability.KindForError(err), 0, "", err)
}
