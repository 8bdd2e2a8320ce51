// Package bedrock implements capability.LLM on top of the AWS Bedrock Converse
// API. System prompts are split from the conversation, tool specs are encoded
// into a ToolConfiguration with provider safe names, and Converse failures are
// classified into capability.LLMError kinds.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/agentkernel/features/model/toolname"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

const providerName = "bedrock"

type (
	// RuntimeClient is the subset of *bedrockruntime.Client used by the
	// adapter.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the adapter.
	Options struct {
		// Runtime provides access to Bedrock. Required.
		Runtime RuntimeClient
		// Model is the default model identifier. Required.
		Model string
		// MaxTokens is used when the request does not bound the completion.
		// Zero lets Bedrock choose.
		MaxTokens int
		// Temperature is sent when positive.
		Temperature float32
	}

	// Client implements capability.LLM.
	Client struct {
		runtime RuntimeClient
		model   string
		maxTok  int
		temp    float32
	}
)

var _ capability.LLM = (*Client)(nil)

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{runtime: opts.Runtime, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete issues a Converse request.
func (c *Client) Complete(ctx context.Context, req agent.LLMRequest) (agent.LLMResponse, error) {
	names, err := toolname.New(req.Tools)
	if err != nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	input, err := c.encodeRequest(req, names)
	if err != nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorInvalidRequest, 0, err.Error(), err)
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return agent.LLMResponse{}, classify(err)
	}
	return translateResponse(out, names)
}

func (c *Client) encodeRequest(req agent.LLMRequest, names *toolname.Map) (*bedrockruntime.ConverseInput, error) {
	msgs, system, err := encodeMessages(req.Messages, names)
	if err != nil {
		return nil, err
	}
	if req.System != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}, system...)
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 || c.temp > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if maxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(maxTokens))
		}
		if c.temp > 0 {
			cfg.Temperature = aws.Float32(c.temp)
		}
		input.InferenceConfig = cfg
	}
	tools, err := encodeTools(req.Tools, names)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: tools}
	}
	return input, nil
}

// encodeMessages converts the history. Consecutive tool messages become one
// user message of tool_result blocks.
func encodeMessages(history []agent.Message, names *toolname.Map) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var (
		out     []brtypes.Message
		system  []brtypes.SystemContentBlock
		results []brtypes.ContentBlock
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: results})
			results = nil
		}
	}
	for _, m := range history {
		switch m.Role {
		case agent.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case agent.RoleTool:
			results = append(results, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
				Status:    brtypes.ToolResultStatusSuccess,
			}})
		case agent.RoleUser:
			flush()
			if m.Content != "" {
				out = append(out, brtypes.Message{
					Role:    brtypes.ConversationRoleUser,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
				})
			}
		case agent.RoleAssistant:
			flush()
			var blocks []brtypes.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, call := range m.ToolCalls {
				input, err := toDocument(call.Args)
				if err != nil {
					return nil, nil, fmt.Errorf("tool call %s arguments: %w", call.ID, err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(call.ID),
					Name:      aws.String(names.Provider(call.Name)),
					Input:     input,
				}})
			}
			if len(blocks) > 0 {
				out = append(out, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	flush()
	if len(out) == 0 {
		return nil, nil, errors.New("at least one user or assistant message is required")
	}
	return out, system, nil
}

func encodeTools(specs []agent.ToolSpec, names *toolname.Map) ([]brtypes.Tool, error) {
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		doc, err := toDocument(schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", spec.Name, err)
		}
		ts := brtypes.ToolSpecification{
			Name:        aws.String(names.Provider(spec.Name)),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
		}
		if spec.Description != "" {
			ts.Description = aws.String(spec.Description)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: ts})
	}
	return tools, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput, names *toolname.Map) (agent.LLMResponse, error) {
	if out == nil {
		return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorUnknown, 0, "empty response", nil)
	}
	var (
		resp agent.LLMResponse
		text []string
	)
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					text = append(text, v.Value)
				}
			case *brtypes.ContentBlockMemberToolUse:
				args, err := fromDocument(v.Value.Input)
				if err != nil {
					return agent.LLMResponse{}, capability.NewLLMError(providerName, capability.LLMErrorUnknown, 0, "decode tool input", err)
				}
				resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
					ID:   aws.ToString(v.Value.ToolUseId),
					Name: names.Canonical(aws.ToString(v.Value.Name)),
					Args: args,
				})
			}
		}
	}
	resp.Content = strings.Join(text, "\n")
	if u := out.Usage; u != nil {
		resp.Usage = agent.TokenUsage{
			InputTokens:  int(aws.ToInt32(u.InputTokens)),
			OutputTokens: int(aws.ToInt32(u.OutputTokens)),
		}
	}
	resp.StopReason = string(out.StopReason)
	return resp, nil
}

// classify maps Converse failures to LLMError kinds. Bedrock error codes take
// precedence over the HTTP status.
func classify(err error) error {
	var (
		status int
		code   string
		msg    string
	)
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	kind := capability.KindForStatus(status)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
		switch code {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			kind = capability.LLMErrorRateLimited
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			kind = capability.LLMErrorAuth
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			kind = capability.LLMErrorUnavailable
		case "ValidationException":
			kind = capability.LLMErrorInvalidRequest
			if strings.Contains(strings.ToLower(msg), "too long") {
				kind = capability.LLMErrorContextLength
			}
		}
	}
	if kind == capability.LLMErrorUnknown {
		kind = capability.KindForError(err)
	}
	if msg == "" {
		msg = code
	}
	return capability.NewLLMError(providerName, kind, status, msg, err)
}

func toDocument(raw json.RawMessage) (document.Interface, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return document.NewLazyDocument(&v), nil
}

func fromDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return data, nil
}
