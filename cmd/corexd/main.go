// Command corexd serves the research retrieval core over HTTP: one
// POST /v1/turn endpoint backed by corex.Client, an OTel-instrumented
// gin router, and Prometheus metrics at /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	corex "github.com/northlight-ai/corex"
	"github.com/northlight-ai/corex/internal/config"
	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corex_turns_total",
		Help: "Completed RunTurn calls by outcome.",
	}, []string{"outcome"})
	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corex_turn_duration_seconds",
		Help:    "RunTurn wall-clock latency.",
		Buckets: prometheus.DefBuckets,
	})
)

type turnRequest struct {
	Query              string   `json:"query" binding:"required"`
	SessionID          string   `json:"session_id"`
	ResearchMode       bool     `json:"research_mode"`
	LocalCorpusPaths   []string `json:"local_corpus_paths"`
	LocalDocumentRoots []string `json:"local_document_roots"`
	ModelAlias         string   `json:"model_alias"`
}

type turnResponse struct {
	FinalContent string `json:"final_content"`
	SessionID    string `json:"session_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func runTurnHandler(client *corex.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		res, err := client.RunTurn(c.Request.Context(), corex.Request{
			Query:              req.Query,
			SessionID:          req.SessionID,
			ModelAlias:         req.ModelAlias,
			ResearchMode:       req.ResearchMode,
			LocalCorpusPaths:   req.LocalCorpusPaths,
			LocalDocumentRoots: req.LocalDocumentRoots,
			SourceMode:         datatypes.SourceModeAuto,
		})
		turnDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			turnsTotal.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		turnsTotal.WithLabelValues("ok").Inc()
		c.JSON(http.StatusOK, turnResponse{
			FinalContent: res.FinalContent,
			SessionID:    res.SessionID,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}
}

func deleteSessionHandler(client *corex.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := client.DeleteSession(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type httpFetcher struct{ client *http.Client }

func (f httpFetcher) Fetch(ctx context.Context, url string) (*llm.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "corexd/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}
	return &llm.FetchResult{
		URL:         url,
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}, nil
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	configPath := flag.String("config", "corex.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable gin debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("corexd: load config", slog.Any("err", err))
		os.Exit(1)
	}

	chat, err := llm.NewAnthropicClient("claude-sonnet-4-5", slog.Default())
	if err != nil {
		slog.Error("corexd: anthropic client", slog.Any("err", err))
		os.Exit(1)
	}
	embedder := llm.NewOllamaEmbeddingClient(cfg.EmbeddingDimensions)

	ccfg := corex.DefaultConfig()
	ccfg.EmbeddingDim = cfg.EmbeddingDimensions
	ccfg.VectorBackend = cfg.VectorBackend
	ccfg.WeaviateHost = cfg.WeaviateHost
	ccfg.WeaviateScheme = cfg.WeaviateScheme

	client, err := corex.New(ccfg, corex.Dependencies{
		Chat:     chat,
		Embedder: embedder,
		Fetcher:  httpFetcher{client: &http.Client{Timeout: 30 * time.Second}},
		Clock:    llm.SystemClock{},
		Logger:   slog.Default(),
	})
	if err != nil {
		slog.Error("corexd: build client", slog.Any("err", err))
		os.Exit(1)
	}
	defer client.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("corexd"))
	if *debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/turn", runTurnHandler(client))
	v1.DELETE("/sessions/:id", deleteSessionHandler(client))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: router}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("corexd: server error", slog.Any("err", err))
			os.Exit(1)
		}
	}()
	slog.Info("corexd: listening", slog.Int("port", *port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("corexd: shutdown error", slog.Any("err", err))
	}
}
