// Package engine implements the tool-calling conversation engine: the
// IDLE -> CHECK_AND_COMPACT -> LLM_CALL -> PARSE -> DISPATCH loop, with
// bounded corrective retry on empty responses and a graceful tool-free
// exit once max turns is reached.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/tools"
)

// Config bounds one engine's turn loop.
type Config struct {
	MaxTurns            int
	ContextWindowTokens int
	MaxEmptyRetries     int // default 1
}

func DefaultConfig() Config {
	return Config{MaxTurns: 25, ContextWindowTokens: 180_000, MaxEmptyRetries: 1}
}

// Engine drives one model's tool-calling turn loop against a shared tool
// registry and chat client.
type Engine struct {
	chat   llm.ChatClient
	tools  *tools.Registry
	tok    tokenCounter
	logger *slog.Logger
	usage  *UsageTracker
	cfg    Config
	clock  llm.Clock
}

func New(chat llm.ChatClient, registry *tools.Registry, tok tokenCounter, usage *UsageTracker, clock llm.Clock, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = llm.SystemClock{}
	}
	if cfg.MaxEmptyRetries == 0 {
		cfg.MaxEmptyRetries = 1
	}
	return &Engine{chat: chat, tools: registry, tok: tok, logger: logger, usage: usage, cfg: cfg, clock: clock}
}

// Result is the outcome of one run_turn call.
type Result struct {
	FinalContent string
	History      []datatypes.Message
	Compacted    bool
}

// RunTurn appends userMessage to history, then drives the tool-calling
// loop until the model produces final content, max turns is exhausted, or
// compaction cannot bring the history under budget (ContextOverflow).
func (e *Engine) RunTurn(ctx context.Context, systemPrompt string, history []datatypes.Message, userMessage, modelAlias string, role string) (*Result, error) {
	now := e.clock.Now()
	history = append(history, datatypes.Message{
		Role: string(llm.RoleUser), Content: userMessage, Timestamp: now, TokenCount: e.tok.Count(userMessage),
	})

	compactedAny := false
	emptyRetries := 0

	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		compacted, wasCompacted, err := compact(ctx, history, e.cfg.ContextWindowTokens, e.tok)
		if err != nil {
			return nil, fmt.Errorf("engine: compaction: %w", err)
		}
		if wasCompacted {
			compactedAny = true
			history = compacted
		}
		if totalTokens(history, e.tok) > int(float64(e.cfg.ContextWindowTokens)*CompactionThreshold) {
			return nil, &ContextOverflow{CompactedMessages: history}
		}

		messages := toWireMessages(history)
		opts := llm.ChatOptions{
			ModelAlias:        modelAlias,
			Tools:             e.tools.Schemas(),
			SystemPrompt:      systemPrompt + "\n" + e.tools.Guidelines(),
			MaxOutputTokens:   4096,
			EnablePromptCache: len(systemPrompt) > 1024,
		}

		resp, err := e.chat.Chat(ctx, messages, opts)
		if err != nil {
			var statusErr *llm.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
				return nil, &ContextOverflow{CompactedMessages: forceCompact(history, e.cfg.ContextWindowTokens, e.tok)}
			}
			return nil, fmt.Errorf("engine: chat call: %w", err)
		}
		if e.usage != nil {
			e.usage.Record(modelAlias, role, resp.InputTokens, resp.OutputTokens, e.clock.Now())
		}

		if len(resp.ToolCalls) > 0 {
			history = append(history, assistantToolCallMessage(resp, e.clock.Now()))
			for _, call := range resp.ToolCalls {
				result := e.tools.Dispatch(ctx, call.Name, call.Arguments)
				history = append(history, toolResultMessage(call, result, e.clock.Now()))
			}
			emptyRetries = 0
			continue
		}

		if resp.Content == "" {
			if emptyRetries >= e.cfg.MaxEmptyRetries {
				return &Result{
					FinalContent: "I wasn't able to produce a response for this request. Could you rephrase or narrow it?",
					History:      history,
					Compacted:    compactedAny,
				}, nil
			}
			emptyRetries++
			history = append(history, datatypes.Message{
				Role: string(llm.RoleUser), Timestamp: e.clock.Now(),
				Content: "Your previous response was empty. Please answer the original question directly.",
			})
			continue
		}

		history = append(history, datatypes.Message{
			Role: string(llm.RoleAssistant), Content: resp.Content, Timestamp: e.clock.Now(), TokenCount: resp.OutputTokens,
		})
		return &Result{FinalContent: resp.Content, History: history, Compacted: compactedAny}, nil
	}

	// Max turns exhausted: make one final tool-free call so the model
	// must answer with what it has instead of looping forever.
	finalOpts := llm.ChatOptions{
		ModelAlias:      modelAlias,
		SystemPrompt:    systemPrompt + "\nTool budget is exhausted for this turn: answer directly from what you already know, without requesting any tool.",
		MaxOutputTokens: 2048,
	}
	resp, err := e.chat.Chat(ctx, toWireMessages(history), finalOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: graceful exit call: %w", err)
	}
	if e.usage != nil {
		e.usage.Record(modelAlias, role, resp.InputTokens, resp.OutputTokens, e.clock.Now())
	}
	content := resp.Content
	if content == "" {
		content = "I reached the turn limit for this request before finishing. Here is what I found so far may be incomplete."
	}
	history = append(history, datatypes.Message{Role: string(llm.RoleAssistant), Content: content, Timestamp: e.clock.Now()})
	return &Result{FinalContent: content, History: history, Compacted: compactedAny}, nil
}

func toWireMessages(history []datatypes.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		wm := llm.Message{Role: llm.Role(m.Role), Content: m.Content}
		if m.Role == string(llm.RoleTool) {
			wm.ToolCallID = m.ID
		}
		out = append(out, wm)
	}
	return out
}

func assistantToolCallMessage(resp *llm.ChatResponse, now time.Time) datatypes.Message {
	return datatypes.Message{
		Role:      string(llm.RoleAssistant),
		Content:   resp.Content,
		Timestamp: now,
	}
}

func toolResultMessage(call llm.ToolCall, result *tools.Result, now time.Time) datatypes.Message {
	payload, err := json.Marshal(result)
	content := string(payload)
	if err != nil {
		content = fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return datatypes.Message{
		ID:        call.ID,
		Role:      string(llm.RoleTool),
		Content:   content,
		Timestamp: now,
	}
}
