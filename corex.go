// Package corex is the research retrieval core: a source shortlist and
// preload pipeline, a content/link cache, a hybrid vector store, and a
// tool-calling conversation engine, wired behind one Client.RunTurn entry
// point.
package corex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/northlight-ai/corex/internal/cache"
	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/docload"
	"github.com/northlight-ai/corex/internal/engine"
	"github.com/northlight-ai/corex/internal/guardrail"
	"github.com/northlight-ai/corex/internal/index"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/preload"
	"github.com/northlight-ai/corex/internal/shortlist"
	"github.com/northlight-ai/corex/internal/storage/badger"
	"github.com/northlight-ai/corex/internal/store"
	"github.com/northlight-ai/corex/internal/tokenizer"
	"github.com/northlight-ai/corex/internal/tools"
)

// Config configures a Client's persisted state and default model alias.
type Config struct {
	BadgerDir       string
	SQLitePath      string
	EmbeddingDim    int
	DefaultModel    string
	MainContextCap  int
	RateLimitPerMin int
	TurnTokenBudget int

	// VectorBackend selects the hybrid index's ANN backend: "" or
	// "embedded" (default, sqlite-vec in-process) or "weaviate" (a remote
	// Weaviate instance, WeaviateHost/WeaviateScheme below).
	VectorBackend  string
	WeaviateHost   string
	WeaviateScheme string
}

func DefaultConfig() Config {
	return Config{
		BadgerDir:       "./data/cache",
		SQLitePath:      "./data/index.db",
		EmbeddingDim:    768,
		DefaultModel:    "main",
		MainContextCap:  180_000,
		RateLimitPerMin: 60,
		TurnTokenBudget: 500_000,
	}
}

// Client is the research retrieval core's public entry point.
type Client struct {
	cache    *cache.Cache
	index    *index.HybridIndex
	store    *store.Store
	preload  *preload.Pipeline
	registry *tools.Registry
	engine   *engine.Engine
	usage    *engine.UsageTracker
	tok      tokenizer.Tokenizer
	cfg      Config
	logger   *slog.Logger

	sessionMu sync.RWMutex
	sessionID string // the turn currently in flight; read by tools.Deps.SessionID
}

// Dependencies bundles the external collaborators the spec requires the
// core to be constructed from.
type Dependencies struct {
	Chat      llm.ChatClient
	Embedder  llm.EmbeddingClient
	Fetcher   llm.HTTPFetcher
	FileLoader llm.FileLoader
	Search    tools.SearchProvider
	Clock     llm.Clock
	Logger    *slog.Logger
}

// New constructs a Client: opens the badger cache and sqlite hybrid index,
// wires invalidation between them, registers the built-in tools, and
// builds the conversation engine behind a rate-limiting/token-budget
// guardrail.
func New(cfg Config, deps Dependencies) (*Client, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = llm.SystemClock{}
	}
	if deps.FileLoader == nil {
		deps.FileLoader = docload.New()
	}

	db, err := badger.Open(badger.Config{Dir: cfg.BadgerDir})
	if err != nil {
		return nil, fmt.Errorf("corex: open cache: %w", err)
	}
	c, err := cache.New(db, nil, deps.Clock, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("corex: open cache index: %w", err)
	}
	if expired, err := c.BulkExpire(deps.Clock.Now()); err != nil {
		deps.Logger.Warn("corex: startup cache sweep failed", slog.Any("err", err))
	} else if expired > 0 {
		deps.Logger.Info("corex: startup cache sweep evicted expired rows", slog.Int("count", expired))
	}

	var vectorBackend index.VectorBackend
	if cfg.VectorBackend == "weaviate" {
		wb, err := index.NewWeaviateBackend(cfg.WeaviateHost, cfg.WeaviateScheme)
		if err != nil {
			return nil, fmt.Errorf("corex: build weaviate backend: %w", err)
		}
		vectorBackend = wb
	}

	idx, err := index.Open(index.Config{DBPath: cfg.SQLitePath, EmbeddingDim: cfg.EmbeddingDim}, deps.Embedder, vectorBackend, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("corex: open index: %w", err)
	}
	c.SetInvalidator(idx)

	sqliteDB, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("corex: open session store: %w", err)
	}
	sessionStore, err := store.Open(sqliteDB)
	if err != nil {
		return nil, fmt.Errorf("corex: migrate session store: %w", err)
	}

	sl := shortlist.New(deps.Fetcher, deps.Embedder, nil, nil, shortlist.DefaultConfig())
	pre := preload.New(c, idx, sl, deps.FileLoader, deps.Fetcher, deps.Logger)

	// Allocated before the tool registry so Deps.SessionID can close over
	// the client's per-turn session field, which RunTurn sets before
	// dispatching any tool call.
	client := &Client{cache: c, index: idx, store: sessionStore, preload: pre, cfg: cfg, logger: deps.Logger}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.Deps{
		Cache:     c,
		Index:     idx,
		Fetcher:   deps.Fetcher,
		Search:    deps.Search,
		SessionID: client.currentSessionID,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	})

	tok := tokenizer.Tokenizer(tokenizer.CharApprox{})
	usage := engine.NewUsageTracker()

	limiters := guardrail.NewLimiters(cfg.RateLimitPerMin)
	budget := guardrail.NewTokenBudget(cfg.TurnTokenBudget)
	guardedChat := guardrail.NewGuardedChatClient(deps.Chat, limiters, budget, deps.Logger)

	engCfg := engine.DefaultConfig()
	engCfg.ContextWindowTokens = cfg.MainContextCap
	eng := engine.New(guardedChat, registry, tok, usage, deps.Clock, deps.Logger, engCfg)

	client.registry = registry
	client.engine = eng
	client.usage = usage
	client.tok = tok
	return client, nil
}

// currentSessionID returns the session id of the turn currently in flight,
// read by the tool registry's save_finding/query_research_memory so
// findings land in the right session instead of always going global.
func (c *Client) currentSessionID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID
}

func (c *Client) setCurrentSessionID(id string) {
	c.sessionMu.Lock()
	c.sessionID = id
	c.sessionMu.Unlock()
}

// Request is one run_turn call's input.
type Request struct {
	Query              string
	ModelAlias         string
	SessionID          string
	ResearchMode       bool
	LocalCorpusPaths   []string
	LocalDocumentRoots []string
	SourceMode         datatypes.ResearchSourceMode
	DisabledTools      []string
	Lean               bool
}

// Result is run_turn's output.
type Result struct {
	FinalContent string
	SessionID    string
	InputTokens  int
	OutputTokens int
}

// RunTurn resolves or creates a session, runs the preload pipeline when
// research mode or an explicit source is requested, applies the session's
// tool-gating, and drives the conversation engine to a final answer.
func (c *Client) RunTurn(ctx context.Context, req Request) (*Result, error) {
	now := llm.SystemClock{}.Now()

	sessionID := req.SessionID
	if sessionID == "" && req.ResearchMode {
		sess, err := c.store.CreateSession(ctx, "", true, req.SourceMode, now)
		if err != nil {
			return nil, fmt.Errorf("corex: create session: %w", err)
		}
		sessionID = sess.SessionID
	}

	c.setCurrentSessionID(sessionID)
	defer c.setCurrentSessionID("")

	history, err := c.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, name := range req.DisabledTools {
		c.registry.SetEnabled(name, false)
	}
	defer func() {
		for _, name := range req.DisabledTools {
			c.registry.SetEnabled(name, true)
		}
	}()

	hasSeedURLs := len(shortlist.ExtractSeedURLs(req.Query)) > 0
	if req.ResearchMode || len(req.LocalCorpusPaths) > 0 || hasSeedURLs {
		preloadRes, err := c.preload.Run(ctx, preload.Request{
			Prompt:              req.Query,
			ResearchMode:        req.ResearchMode,
			LocalCorpusPaths:    req.LocalCorpusPaths,
			LocalDocumentRoots:  req.LocalDocumentRoots,
			SourceMode:          req.SourceMode,
			MainModelContextCap: c.cfg.MainContextCap,
		})
		if err != nil {
			c.logger.Warn("corex: preload failed, continuing without it", slog.Any("err", err))
		} else if preloadRes.SeedsComplete {
			c.registry.SetEnabled("web_search", false)
			c.registry.SetEnabled("get_url_content", false)
			c.registry.SetEnabled("get_url_details", false)
			defer func() {
				c.registry.SetEnabled("web_search", true)
				c.registry.SetEnabled("get_url_content", true)
				c.registry.SetEnabled("get_url_details", true)
			}()
		}
	}

	modelAlias := req.ModelAlias
	if modelAlias == "" {
		modelAlias = c.cfg.DefaultModel
	}

	res, err := c.engine.RunTurn(ctx, defaultSystemPrompt, history, req.Query, modelAlias, "main")
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		if err := c.persistTurn(ctx, sessionID, res.History); err != nil {
			return nil, err
		}
	}

	input, output := c.usage.Totals()
	return &Result{FinalContent: res.FinalContent, SessionID: sessionID, InputTokens: input, OutputTokens: output}, nil
}

const defaultSystemPrompt = "You are a careful research assistant. Use the available tools to ground your answers in retrieved content, and cite what you find."

func (c *Client) loadHistory(ctx context.Context, sessionID string) ([]datatypes.Message, error) {
	if sessionID == "" {
		return nil, nil
	}
	return c.store.History(ctx, sessionID)
}

func (c *Client) persistTurn(ctx context.Context, sessionID string, full []datatypes.Message) error {
	existing, err := c.store.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("corex: load existing history: %w", err)
	}
	newMessages := full[len(existing):]
	for _, m := range newMessages {
		m.SessionID = sessionID
		if err := c.store.AppendMessage(ctx, m); err != nil {
			return fmt.Errorf("corex: append message: %w", err)
		}
	}
	return c.store.TouchSession(ctx, sessionID, llm.SystemClock{}.Now())
}

// DeleteSession cascades a full session delete (vector findings, then
// messages, then the session row).
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.store.DeleteSession(ctx, sessionID, c.index)
}

// Close closes the hybrid index's database handle. The Badger store behind
// the cache and the session store's database handle are not closed here.
func (c *Client) Close() error {
	return c.index.Close()
}
