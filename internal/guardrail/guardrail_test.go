package guardrail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northlight-ai/corex/internal/llm"
)

type fakeChatClient struct {
	resp *llm.ChatResponse
	err  error
	n    int
}

func (f *fakeChatClient) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestTokenBudgetReserveAndRecord(t *testing.T) {
	b := NewTokenBudget(100)
	require.NoError(t, b.Reserve(50))
	b.Record(50)
	require.Equal(t, 50, b.Spent())

	require.NoError(t, b.Reserve(50))
	b.Record(50)
	require.Error(t, b.Reserve(1))
}

func TestTokenBudgetUnlimited(t *testing.T) {
	b := NewTokenBudget(0)
	require.NoError(t, b.Reserve(1_000_000))
}

func TestGuardedChatClientRecordsUsage(t *testing.T) {
	inner := &fakeChatClient{resp: &llm.ChatResponse{Content: "hi", InputTokens: 10, OutputTokens: 5}}
	budget := NewTokenBudget(1000)
	limiters := NewLimiters(0)
	g := NewGuardedChatClient(inner, limiters, budget, nil)

	resp, err := g.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, llm.ChatOptions{ModelAlias: "main"})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)
	require.Equal(t, 15, budget.Spent())
	require.Equal(t, 1, inner.n)
}

func TestGuardedChatClientRejectsOverBudget(t *testing.T) {
	inner := &fakeChatClient{resp: &llm.ChatResponse{Content: "hi"}}
	budget := NewTokenBudget(1)
	limiters := NewLimiters(0)
	g := NewGuardedChatClient(inner, limiters, budget, nil)

	_, err := g.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "this message is long enough to exceed the tiny budget"}}, llm.ChatOptions{ModelAlias: "main"})
	require.Error(t, err)
	require.Equal(t, 0, inner.n)
}

func TestGuardedChatClientPropagatesInnerError(t *testing.T) {
	inner := &fakeChatClient{err: context.DeadlineExceeded}
	g := NewGuardedChatClient(inner, NewLimiters(0), NewTokenBudget(0), nil)

	_, err := g.Chat(context.Background(), nil, llm.ChatOptions{ModelAlias: "main"})
	require.Error(t, err)
}

func TestLimitersSeparatePerKey(t *testing.T) {
	l := NewLimiters(60)
	a := l.forKey("main")
	b := l.forKey("fallback")
	require.NotSame(t, a, b)
	require.Same(t, a, l.forKey("main"))
}
