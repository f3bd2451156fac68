// Package config loads corex's runtime configuration from a YAML file with
// environment-variable overrides, and watches the file for hot-reloadable
// settings (currently: the research local document root allowlist).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config mirrors the subset of keys the spec's external interface names:
// turn bounds, cache/embedding/chunk/shortlist/memory tuning, and the
// local-ingestion allowlist.
type Config struct {
	MaxTurns             int      `yaml:"max_turns"`
	RequestTimeoutSec    int      `yaml:"request_timeout_seconds"`
	MaxRetries           int      `yaml:"max_retries"`
	BackoffInitialMS     int      `yaml:"backoff_initial_ms"`
	BackoffMaxMS         int      `yaml:"backoff_max_ms"`
	CompactionThreshold  float64  `yaml:"compaction_threshold"`
	CacheTTLHours        int      `yaml:"cache_ttl_hours"`
	EmbeddingModel       string   `yaml:"embedding_model"`
	EmbeddingDimensions  int      `yaml:"embedding_dimensions"`
	ChunkSizeTokens      int      `yaml:"chunk_size_tokens"`
	ChunkOverlapTokens   int      `yaml:"chunk_overlap_tokens"`
	ShortlistMaxCandidates int    `yaml:"shortlist_max_candidates"`
	ShortlistMaxFetchURLs  int    `yaml:"shortlist_max_fetch_urls"`
	MemoryRecallTopK     int      `yaml:"memory_recall_top_k"`
	MemoryRecallMinSim   float64  `yaml:"memory_recall_min_similarity"`
	MemoryDedupThreshold float64  `yaml:"memory_dedup_threshold"`
	LocalDocumentRoots   []string `yaml:"research_local_document_roots"`

	VectorBackend  string `yaml:"vector_backend"`
	WeaviateHost   string `yaml:"weaviate_host"`
	WeaviateScheme string `yaml:"weaviate_scheme"`
}

// Default returns the spec's documented defaults.
func Default() Config {
	return Config{
		MaxTurns:               25,
		RequestTimeoutSec:       60,
		MaxRetries:              3,
		BackoffInitialMS:        250,
		BackoffMaxMS:            8000,
		CompactionThreshold:     0.80,
		CacheTTLHours:           24,
		EmbeddingModel:          "nomic-embed-text-v2-moe",
		EmbeddingDimensions:     768,
		ChunkSizeTokens:         512,
		ChunkOverlapTokens:      64,
		ShortlistMaxCandidates:  40,
		ShortlistMaxFetchURLs:   20,
		MemoryRecallTopK:        5,
		MemoryRecallMinSim:      0.35,
		MemoryDedupThreshold:    0.90,
	}
}

// Load reads path (if present) over the defaults, then applies
// COREX_-prefixed environment variable overrides for the handful of
// settings most often tuned per-deployment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnvOverrides(cfg), nil
			}
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return applyEnvOverrides(cfg), nil
}

func applyEnvOverrides(cfg Config) Config {
	if v := os.Getenv("COREX_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTurns = n
		}
	}
	if v := os.Getenv("COREX_CACHE_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLHours = n
		}
	}
	if v := os.Getenv("COREX_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	return cfg
}

// Watcher hot-reloads research.local_document_roots from path on change,
// the one setting the spec calls out as safely mutable at runtime (every
// other key only takes effect on next process start).
type Watcher struct {
	mu    sync.RWMutex
	roots []string
	path  string
	w     *fsnotify.Watcher
	log   *slog.Logger
}

// NewWatcher starts watching path for changes to research_local_document_roots.
func NewWatcher(path string, initial []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if path != "" {
		if err := fw.Add(path); err != nil {
			fw.Close()
			return nil, fmt.Errorf("config: watch %s: %w", path, err)
		}
	}
	watcher := &Watcher{roots: initial, path: path, w: fw, log: logger}
	go watcher.loop()
	return watcher, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config: reload failed", slog.Any("err", err))
				continue
			}
			w.mu.Lock()
			w.roots = cfg.LocalDocumentRoots
			w.mu.Unlock()
			w.log.Info("config: reloaded local document roots", slog.Int("count", len(cfg.LocalDocumentRoots)))
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watcher error", slog.Any("err", err))
		}
	}
}

// LocalDocumentRoots returns the current allowlist.
func (w *Watcher) LocalDocumentRoots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.roots))
	copy(out, w.roots)
	return out
}

func (w *Watcher) Close() error { return w.w.Close() }
