package engine

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/tokenizer"
	"github.com/northlight-ai/corex/internal/tools"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type scriptedChat struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (s *scriptedChat) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}

func TestRunTurnDirectAnswer(t *testing.T) {
	chat := &scriptedChat{responses: []*llm.ChatResponse{
		{Content: "the answer is 42", InputTokens: 10, OutputTokens: 5},
	}}
	reg := tools.NewRegistry()
	e := New(chat, reg, tokenizer.CharApprox{}, NewUsageTracker(), &fakeClock{now: time.Now()}, nil, DefaultConfig())

	res, err := e.RunTurn(context.Background(), "you are helpful", nil, "what is the answer?", "main", "main")
	require.NoError(t, err)
	require.Equal(t, "the answer is 42", res.FinalContent)
	require.Equal(t, 1, chat.calls)
}

func TestRunTurnDispatchesToolCalls(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&echoTool{})

	chat := &scriptedChat{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call1", Name: "echo", Arguments: map[string]any{"text": "hi"}}}},
		{Content: "done"},
	}}
	e := New(chat, reg, tokenizer.CharApprox{}, NewUsageTracker(), &fakeClock{now: time.Now()}, nil, DefaultConfig())

	res, err := e.RunTurn(context.Background(), "sys", nil, "please echo hi", "main", "main")
	require.NoError(t, err)
	require.Equal(t, "done", res.FinalContent)
	require.Equal(t, 2, chat.calls)
}

func TestRunTurnEmptyResponseRetriesThenApologizes(t *testing.T) {
	chat := &scriptedChat{responses: []*llm.ChatResponse{
		{Content: ""},
		{Content: ""},
	}}
	reg := tools.NewRegistry()
	cfg := DefaultConfig()
	cfg.MaxEmptyRetries = 1
	e := New(chat, reg, tokenizer.CharApprox{}, NewUsageTracker(), &fakeClock{now: time.Now()}, nil, cfg)

	res, err := e.RunTurn(context.Background(), "sys", nil, "hello", "main", "main")
	require.NoError(t, err)
	require.Contains(t, res.FinalContent, "wasn't able")
	require.Equal(t, 2, chat.calls)
}

func TestRunTurnConvertsProvider400ToContextOverflow(t *testing.T) {
	chat := &scriptedChat{
		responses: []*llm.ChatResponse{nil},
		errs:      []error{fmt.Errorf("anthropic: request failed: %w", &llm.StatusError{StatusCode: http.StatusBadRequest, Body: "prompt is too long"})},
	}
	reg := tools.NewRegistry()
	history := []datatypes.Message{
		{Role: string(llm.RoleSystem), Content: "sys"},
		{Role: string(llm.RoleUser), Content: "a very long question"},
	}
	e := New(chat, reg, tokenizer.CharApprox{}, NewUsageTracker(), &fakeClock{now: time.Now()}, nil, DefaultConfig())

	res, err := e.RunTurn(context.Background(), "sys", history, "one more question", "main", "main")
	require.Nil(t, res)
	require.Error(t, err)

	var overflow *ContextOverflow
	require.ErrorAs(t, err, &overflow)
	require.NotEmpty(t, overflow.CompactedMessages)
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Definition() tools.Definition {
	return tools.Definition{Name: "echo", Description: "echoes text", Parameters: map[string]tools.ParamDef{
		"text": {Type: "string", Required: true},
	}}
}
func (echoTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	return &tools.Result{OK: true, Value: args["text"]}, nil
}
