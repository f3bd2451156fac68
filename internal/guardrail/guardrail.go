// Package guardrail wraps the model-facing chat client with pre-flight
// checks and post-call auditing: per-model-alias rate limiting,
// a per-turn token budget, and structured audit logging of every call.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/northlight-ai/corex/internal/llm"
)

var tracer = otel.Tracer("corex/guardrail")

// TokenBudget caps the combined input+output tokens a single turn may
// spend across every Chat call it makes, guarding against a runaway
// tool-call loop burning an unbounded number of tokens.
type TokenBudget struct {
	mu      sync.Mutex
	limit   int
	spent   int
}

func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{limit: limit}
}

func (b *TokenBudget) Reserve(estimate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.spent+estimate > b.limit {
		return fmt.Errorf("guardrail: token budget exceeded (%d/%d spent, %d requested)", b.spent, b.limit, estimate)
	}
	return nil
}

func (b *TokenBudget) Record(actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += actual
}

func (b *TokenBudget) Spent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Limiters holds one token-bucket rate limiter per model alias, so a
// single model alias misbehaving doesn't starve the others.
type Limiters struct {
	mu       sync.Mutex
	byKey    map[string]*rate.Limiter
	perMin   int
}

// NewLimiters builds a set of per-key limiters, each allowing perMin
// requests per minute with a burst of one (the conversation engine issues
// one Chat call at a time per session, so bursting isn't needed).
func NewLimiters(perMin int) *Limiters {
	return &Limiters{byKey: make(map[string]*rate.Limiter), perMin: perMin}
}

func (l *Limiters) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.byKey[key]
	if !ok {
		if l.perMin <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), 1)
		}
		l.byKey[key] = lim
	}
	return lim
}

// GuardedChatClient wraps an llm.ChatClient with rate limiting, a token
// budget, and audit logging, mirroring the pre-flight/post-call decorator
// shape used for provider egress control: checks run before the inner
// call, auditing runs after, and failures here never pass the underlying
// transport error through unexamined.
type GuardedChatClient struct {
	inner    llm.ChatClient
	limiters *Limiters
	budget   *TokenBudget
	logger   *slog.Logger
}

func NewGuardedChatClient(inner llm.ChatClient, limiters *Limiters, budget *TokenBudget, logger *slog.Logger) *GuardedChatClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedChatClient{inner: inner, limiters: limiters, budget: budget, logger: logger}
}

func (g *GuardedChatClient) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "guardrail.Chat", oteltrace.WithAttributes(
		attribute.String("model_alias", opts.ModelAlias),
	))
	defer span.End()

	estimate := estimateTokens(messages, opts)
	if g.budget != nil {
		if err := g.budget.Reserve(estimate); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	lim := g.limiters.forKey(opts.ModelAlias)
	if err := lim.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("guardrail: rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := g.inner.Chat(ctx, messages, opts)
	elapsed := time.Since(start)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("guardrail: chat call failed",
			slog.String("model_alias", opts.ModelAlias), slog.Duration("elapsed", elapsed), slog.Any("err", err))
		return nil, err
	}

	if g.budget != nil {
		g.budget.Record(resp.InputTokens + resp.OutputTokens)
	}
	g.logger.Info("guardrail: chat call complete",
		slog.String("model_alias", opts.ModelAlias),
		slog.Int("input_tokens", resp.InputTokens),
		slog.Int("output_tokens", resp.OutputTokens),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

func estimateTokens(messages []llm.Message, opts llm.ChatOptions) int {
	chars := len(opts.SystemPrompt)
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars/4 + opts.MaxOutputTokens
}
