package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// promptCacheMinChars is the size above which a system block is marked
// ephemeral-cacheable; small system prompts aren't worth the cache write.
const promptCacheMinChars = 1024

// AnthropicClient is a hand-rolled Messages API client: no vendor SDK, just
// the wire shapes this codebase actually exercises (text, tool_use,
// tool_result, and ephemeral prompt caching on oversized system blocks).
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient builds a client from ANTHROPIC_API_KEY, falling back to
// a podman/docker secrets mount so the same binary works unmodified in a
// container that injects secrets via file rather than environment.
func NewAnthropicClient(model string, logger *slog.Logger) (*AnthropicClient, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		if b, err := os.ReadFile("/run/secrets/anthropic_api_key"); err == nil {
			key = strings.TrimSpace(string(b))
		}
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: no API key in ANTHROPIC_API_KEY or /run/secrets/anthropic_api_key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		apiKey:     key,
		model:      model,
		baseURL:    "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}, nil
}

type cacheControl struct {
	Type string `json:"type"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    []systemBlock `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []toolDef     `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements llm.ChatClient.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	req := anthropicRequest{
		Model:     coalesce(opts.ModelAlias, a.model),
		MaxTokens: coalesceInt(opts.MaxOutputTokens, 4096),
	}
	if opts.SystemPrompt != "" {
		block := systemBlock{Type: "text", Text: opts.SystemPrompt}
		if opts.EnablePromptCache && len(opts.SystemPrompt) > promptCacheMinChars {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		req.System = []systemBlock{block}
	}
	for _, t := range opts.Tools {
		req.Tools = append(req.Tools, toolDef{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	for _, m := range messages {
		wm, err := toWireMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, wm)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if opts.EnablePromptCache {
		httpReq.Header.Set("anthropic-beta", "prompt-caching-2024-07-31")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w (body=%s)", err, SafeLogString(string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if apiResp.Error != nil {
			msg = apiResp.Error.Message
		}
		a.logger.Warn("anthropic: non-200 response", slog.Int("status", resp.StatusCode), slog.String("body", SafeLogString(string(respBody))))
		return nil, fmt.Errorf("anthropic: request failed: %w", &StatusError{StatusCode: resp.StatusCode, Body: SafeLogString(msg)})
	}

	out := &ChatResponse{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool_use input: %w", err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Kind: ToolCallJSON, Name: block.Name, Arguments: args})
		}
	}
	return out, nil
}

func toWireMessage(m Message) (wireMessage, error) {
	wm := wireMessage{Role: string(m.Role)}
	if wm.Role == string(RoleTool) {
		wm.Role = "user"
		wm.Content = append(wm.Content, contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
		return wm, nil
	}
	if m.Content != "" {
		wm.Content = append(wm.Content, contentBlock{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		input, err := json.Marshal(tc.Arguments)
		if err != nil {
			return wireMessage{}, fmt.Errorf("anthropic: marshal tool call args: %w", err)
		}
		wm.Content = append(wm.Content, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	return wm, nil
}

func coalesce(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func coalesceInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
