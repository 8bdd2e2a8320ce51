package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestCompleteText(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-test", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), agent.LLMRequest{
		System:   "be brief",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Content)
	assert.Equal(t, agent.TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)
	assert.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)

	assert.Equal(t, sdk.Model("claude-test"), stub.lastParams.Model)
	assert.EqualValues(t, 128, stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be brief", stub.lastParams.System[0].Text)
	require.Len(t, stub.lastParams.Messages, 1)
}

func TestCompleteToolUseRoundTrip(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{
			Type:  "tool_use",
			ID:    "toolu_1",
			Name:  "fs_read",
			Input: json.RawMessage(`{"path":"a.go"}`),
		}},
		StopReason: sdk.StopReasonToolUse,
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-test"})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), agent.LLMRequest{
		Messages: []agent.Message{
			{Role: agent.RoleUser, Content: "read two files"},
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{
				{ID: "toolu_0", Name: "fs.read", Args: json.RawMessage(`{"path":"b.go"}`)},
				{ID: "toolu_x", Name: "fs.read"},
			}},
			{Role: agent.RoleTool, ToolCallID: "toolu_0", Name: "fs.read", Content: "package b"},
			{Role: agent.RoleTool, ToolCallID: "toolu_x", Name: "fs.read", Content: "package x"},
		},
		Tools: []agent.ToolSpec{{
			Name:        "fs.read",
			Description: "Read a file",
			Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "fs.read", resp.ToolCalls[0].Name)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"a.go"}`, string(resp.ToolCalls[0].Args))

	// user, assistant, and one folded tool_result message.
	require.Len(t, stub.lastParams.Messages, 3)
	assert.Len(t, stub.lastParams.Messages[2].Content, 2)
	require.Len(t, stub.lastParams.Tools, 1)
	require.NotNil(t, stub.lastParams.Tools[0].OfTool)
	assert.Equal(t, "fs_read", stub.lastParams.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, stub.lastParams.Tools[0].OfTool.InputSchema.Required)
}

func TestCompleteClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		kind   capability.LLMErrorKind
	}{
		{http.StatusTooManyRequests, capability.LLMErrorRateLimited},
		{http.StatusUnauthorized, capability.LLMErrorAuth},
		{http.StatusBadRequest, capability.LLMErrorInvalidRequest},
		{http.StatusInternalServerError, capability.LLMErrorUnavailable},
		{529, capability.LLMErrorUnavailable},
	}
	for _, tc := range cases {
		stub := &stubMessagesClient{err: &sdk.Error{StatusCode: tc.status}}
		cl, err := New(stub, Options{DefaultModel: "claude-test"})
		require.NoError(t, err)
		_, err = cl.Complete(context.Background(), agent.LLMRequest{Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}}})
		le, ok := capability.AsLLMError(err)
		require.True(t, ok, "status %d", tc.status)
		assert.Equal(t, tc.kind, le.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, le.Status)
	}

	stub := &stubMessagesClient{err: errors.New("boom")}
	cl, err := New(stub, Options{DefaultModel: "claude-test"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), agent.LLMRequest{Messages: []agent.Message{{Role: agent.RoleUser, Content: "hi"}}})
	le, ok := capability.AsLLMError(err)
	require.True(t, ok)
	assert.Equal(t, capability.LLMErrorUnknown, le.Kind)
	assert.False(t, le.Retryable())
}

func TestCompleteRejectsEmptyHistory(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-test"})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), agent.LLMRequest{})
	le, ok := capability.AsLLMError(err)
	require.True(t, ok)
	assert.Equal(t, capability.LLMErrorInvalidRequest, le.Kind)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)
	_, err = New(&stubMessagesClient{}, Options{})
	require.Error(t, err)
	_, err = NewFromAPIKey("", "m")
	require.Error(t, err)
}
