package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openaimodel "goa.design/agentkernel/features/model/openai"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type mockChatClient struct {
	request  openai.ChatCompletionRequest
	response openai.ChatCompletionResponse
	err      error
}

func (m *mockChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.request = req
	return m.response, m.err
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: "hi there",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Function: openai.FunctionCall{Name: "docs_lookup", Arguments: `{"query":"docs"}`},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), agent.LLMRequest{
		System:   "sys",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "ping"}},
		Tools: []agent.ToolSpec{{
			Name:        "docs.lookup",
			Description: "Search",
			Schema:      json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "docs.lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"docs"}`, string(resp.ToolCalls[0].Args))
	assert.Equal(t, agent.TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)
	assert.Equal(t, "tool_calls", resp.StopReason)

	assert.Equal(t, "gpt-4o", mock.request.Model)
	require.Len(t, mock.request.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, mock.request.Messages[0].Role)
	require.Len(t, mock.request.Tools, 1)
	assert.Equal(t, "docs_lookup", mock.request.Tools[0].Function.Name)
}

func TestClientEncodesToolHistory(t *testing.T) {
	mock := &mockChatClient{}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), agent.LLMRequest{
		Messages: []agent.Message{
			{Role: agent.RoleUser, Content: "time?"},
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: "clock.now"}}},
			{Role: agent.RoleTool, ToolCallID: "c1", Name: "clock.now", Content: `"noon"`},
		},
	})
	require.NoError(t, err)
	msgs := mock.request.Messages
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "clock_now", msgs[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "{}", msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
}

func TestClientInvalidArguments(t *testing.T) {
	mock := &mockChatClient{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			ToolCalls: []openai.ToolCall{{ID: "c", Function: openai.FunctionCall{Name: "x", Arguments: "not json"}}},
		}}},
	}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	resp, err := client.Complete(context.Background(), agent.LLMRequest{Messages: []agent.Message{{Role: agent.RoleUser, Content: "go"}}})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.JSONEq(t, `{"raw":"not json"}`, string(resp.ToolCalls[0].Args))
}

func TestClientClassifiesErrors(t *testing.T) {
	cases := []struct {
		err  error
		kind capability.LLMErrorKind
	}{
		{&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, capability.LLMErrorRateLimited},
		{&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Code: "context_length_exceeded", Message: "too long"}, capability.LLMErrorContextLength},
		{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}, capability.LLMErrorAuth},
		{&openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, capability.LLMErrorUnavailable},
		{context.DeadlineExceeded, capability.LLMErrorNetwork},
	}
	for _, tc := range cases {
		client, err := openaimodel.New(openaimodel.Options{Client: &mockChatClient{err: tc.err}, DefaultModel: "gpt-4o"})
		require.NoError(t, err)
		_, err = client.Complete(context.Background(), agent.LLMRequest{Messages: []agent.Message{{Role: agent.RoleUser, Content: "go"}}})
		le, ok := capability.AsLLMError(err)
		require.True(t, ok)
		assert.Equal(t, tc.kind, le.Kind, tc.err.Error())
	}
}

func TestNewValidation(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{DefaultModel: "m"})
	require.Error(t, err)
	_, err = openaimodel.New(openaimodel.Options{Client: &mockChatClient{}})
	require.Error(t, err)
	_, err = openaimodel.NewFromAPIKey("", "", "m")
	require.Error(t, err)
}
