// Command corex is the interactive CLI for the research retrieval core:
// a one-shot "ask" command and a resumable "chat" command.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	corex "github.com/northlight-ai/corex"
	"github.com/northlight-ai/corex/internal/config"
	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
)

var (
	configPath   string
	researchMode bool
	sessionID    string
	localPaths   []string
)

const defaultAnthropicModel = "claude-sonnet-4-5"

func main() {
	root := &cobra.Command{Use: "corex", Short: "Research retrieval core CLI"}
	root.PersistentFlags().StringVar(&configPath, "config", "corex.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&researchMode, "research", false, "enable research mode (web/local shortlist)")
	root.PersistentFlags().StringSliceVar(&localPaths, "local", nil, "local corpus file paths to ingest")

	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-shot question",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	chat := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask within a resumable session",
		Args:  cobra.MinimumNArgs(1),
		Run:   runChat,
	}
	chat.Flags().StringVar(&sessionID, "session", "", "existing session id to resume")

	root.AddCommand(ask, chat)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func buildClient() (*corex.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	chat, err := llm.NewAnthropicClient(defaultAnthropicModel, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}
	embedder := llm.NewOllamaEmbeddingClient(cfg.EmbeddingDimensions)

	ccfg := corex.DefaultConfig()
	ccfg.EmbeddingDim = cfg.EmbeddingDimensions
	ccfg.VectorBackend = cfg.VectorBackend
	ccfg.WeaviateHost = cfg.WeaviateHost
	ccfg.WeaviateScheme = cfg.WeaviateScheme

	return corex.New(ccfg, corex.Dependencies{
		Chat:     chat,
		Embedder: embedder,
		Fetcher:  httpFetcher{},
		Clock:    llm.SystemClock{},
		Logger:   slog.Default(),
	})
}

func runAsk(cmd *cobra.Command, args []string) {
	client, err := buildClient()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	res, err := client.RunTurn(context.Background(), corex.Request{
		Query:              strings.Join(args, " "),
		ResearchMode:       researchMode,
		LocalCorpusPaths:   localPaths,
		LocalDocumentRoots: localPaths,
		SourceMode:         datatypes.SourceModeAuto,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.FinalContent)
}

func runChat(cmd *cobra.Command, args []string) {
	client, err := buildClient()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	res, err := client.RunTurn(context.Background(), corex.Request{
		Query:              strings.Join(args, " "),
		SessionID:          sessionID,
		ResearchMode:       true,
		LocalCorpusPaths:   localPaths,
		LocalDocumentRoots: localPaths,
		SourceMode:         datatypes.SourceModeAuto,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("session: %s\n\n%s\n", res.SessionID, res.FinalContent)
}

// httpFetcher is the default llm.HTTPFetcher, kept here rather than in the
// library so the core package stays free of a hard net/http dependency
// for callers who supply their own fetcher (e.g. a rate-limited one).
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, url string) (*llm.FetchResult, error) {
	client := f.client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "corex/1.0")

	resp, err := client.Do(req)
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

func init() {
	if os.Getenv("COREX_LOG_LEVEL") == "debug" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}
