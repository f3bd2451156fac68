// Package preload implements deterministic pre-model context assembly:
// local ingestion, seed URL fetches, shortlist ranking, and bootstrap
// retrieval, all before the first LLM call so small models reason over
// grounded context instead of hallucinating it.
package preload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/northlight-ai/corex/internal/cache"
	"github.com/northlight-ai/corex/internal/chunk"
	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/index"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/shortlist"
)

// BlockLabel names the four preload outcomes the data model's PreloadBlock
// entity can carry.
type BlockLabel string

const (
	LabelFullContent             BlockLabel = "full_content"
	LabelSummarizedDueBudget      BlockLabel = "summarized_due_budget"
	LabelSummaryTruncatedDueBudget BlockLabel = "summary_truncated_due_budget"
	LabelFetchError               BlockLabel = "fetch_error"
)

// Block is one preloaded context block ready to splice into the first
// model message.
type Block struct {
	URLOrHandle   string
	Label         BlockLabel
	Content       string
	TokenEstimate int
}

// Request configures one preload run.
type Request struct {
	Prompt              string
	ResearchMode        bool
	LocalCorpusPaths    []string
	LocalDocumentRoots  []string // allowlist; required for any local ingestion
	SourceMode          datatypes.ResearchSourceMode
	MainModelContextCap int // tokens; budget below is a fraction of this
}

// Result is the assembled preload output and whether seed preload
// completed cleanly (gating tool availability for the turn).
type Result struct {
	Blocks           []Block
	SeedsComplete    bool
	ShortlistResult  *shortlist.Result
	BootstrapSnippets []string
}

const seedBudgetFraction = 0.80

// tokenEstimate approximates token count the same way the engine does:
// chars/4.
func tokenEstimate(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// Pipeline wires the cache, hybrid index, shortlist, and file loader the
// preload stages depend on.
type Pipeline struct {
	cache      *cache.Cache
	index      *index.HybridIndex
	shortlist  *shortlist.Shortlist
	fileLoader llm.FileLoader
	fetcher    llm.HTTPFetcher
	logger     *slog.Logger
}

func New(c *cache.Cache, idx *index.HybridIndex, sl *shortlist.Shortlist, fileLoader llm.FileLoader, fetcher llm.HTTPFetcher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cache: c, index: idx, shortlist: sl, fileLoader: fileLoader, fetcher: fetcher, logger: logger}
}

// ResolveShortlistEnabled implements the policy gate's precedence chain:
// lean > explicit request > session > model > global > mode-default.
// local_only always disables web shortlist regardless of an explicit "on".
func ResolveShortlistEnabled(lean bool, explicit, session, model, global *bool, modeDefault bool, sourceMode datatypes.ResearchSourceMode) bool {
	if lean {
		return false
	}
	if sourceMode == datatypes.SourceModeLocalOnly {
		return false
	}
	for _, v := range []*bool{explicit, session, model, global} {
		if v != nil {
			return *v
		}
	}
	return modeDefault
}

// Run executes the applicable preload stages for req and returns the
// assembled blocks plus completion/gating signals.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}

	if len(req.LocalCorpusPaths) > 0 {
		if err := p.localIngestion(ctx, req, result); err != nil {
			return nil, fmt.Errorf("preload: local ingestion: %w", err)
		}
	}

	seedURLs := shortlist.ExtractSeedURLs(req.Prompt)
	budget := int(float64(req.MainModelContextCap) * seedBudgetFraction)
	if len(seedURLs) > 0 {
		p.seedURLPreload(ctx, seedURLs, budget, result)
	}

	if req.SourceMode != datatypes.SourceModeOff && req.SourceMode != datatypes.SourceModeLocalOnly && (req.ResearchMode || req.SourceMode == datatypes.SourceModeOn) && p.shortlist != nil {
		sl, err := p.shortlist.Run(ctx, req.Prompt)
		if err != nil {
			p.logger.Warn("preload: shortlist failed, continuing without it", slog.Any("err", err))
		} else {
			result.ShortlistResult = sl
			for _, c := range sl.Candidates {
				result.Blocks = append(result.Blocks, Block{
					URLOrHandle:   c.URL,
					Label:         LabelFullContent,
					Content:       c.ExtractedText,
					TokenEstimate: tokenEstimate(c.ExtractedText),
				})
			}
		}
	}

	if req.ResearchMode && p.index != nil && len(req.LocalCorpusPaths) > 0 {
		snippets, err := p.index.SearchChunks(ctx, req.Prompt, index.SearchOptions{K: 5})
		if err != nil {
			p.logger.Warn("preload: bootstrap retrieval failed", slog.Any("err", err))
		} else {
			for _, s := range snippets {
				result.BootstrapSnippets = append(result.BootstrapSnippets, s.Text)
			}
		}
	}

	result.SeedsComplete = p.seedsComplete(result.Blocks, seedURLs)
	return result, nil
}

func (p *Pipeline) seedsComplete(blocks []Block, seeds []string) bool {
	if len(seeds) == 0 {
		return false
	}
	byURL := map[string]Block{}
	for _, b := range blocks {
		byURL[b.URLOrHandle] = b
	}
	for _, s := range seeds {
		b, ok := byURL[s]
		if !ok || b.Label != LabelFullContent {
			return false
		}
	}
	return true
}

func (p *Pipeline) seedURLPreload(ctx context.Context, seeds []string, budget int, result *Result) {
	used := 0
	for _, seedURL := range seeds {
		res, err := p.fetcher.Fetch(ctx, seedURL)
		if err != nil {
			result.Blocks = append(result.Blocks, Block{URLOrHandle: seedURL, Label: LabelFetchError})
			continue
		}
		content := string(res.Body)
		estimate := tokenEstimate(content)

		label := LabelFullContent
		if used+estimate > budget {
			available := budget - used
			if available <= 0 {
				label = LabelSummaryTruncatedDueBudget
				content = ""
			} else {
				label = LabelSummarizedDueBudget
				content = truncateToTokens(content, available)
			}
			estimate = tokenEstimate(content)
		}
		used += estimate

		if _, err := p.cache.Put(seedURL, string(res.Body), nil, 0); err != nil {
			p.logger.Warn("preload: cache put failed", slog.String("url", seedURL), slog.Any("err", err))
		}

		result.Blocks = append(result.Blocks, Block{URLOrHandle: seedURL, Label: label, Content: content, TokenEstimate: estimate})
	}
}

func truncateToTokens(s string, tokens int) string {
	chars := tokens * 4
	if chars >= len(s) {
		return s
	}
	return s[:chars]
}

func (p *Pipeline) localIngestion(ctx context.Context, req Request, result *Result) error {
	for _, path := range req.LocalCorpusPaths {
		if !underAllowedRoot(path, req.LocalDocumentRoots) {
			result.Blocks = append(result.Blocks, Block{URLOrHandle: path, Label: LabelFetchError,
				Content: "rejected: path is outside research.local_document_roots"})
			continue
		}
		text, err := p.fileLoader.Load(ctx, path)
		if err != nil {
			result.Blocks = append(result.Blocks, Block{URLOrHandle: path, Label: LabelFetchError})
			continue
		}

		handle := "corpus://cache/" + cacheIDFor(path)
		entry, err := p.cache.Put(handle, text, nil, 0)
		if err != nil {
			return fmt.Errorf("cache local document %s: %w", path, err)
		}

		sections := chunk.ExtractSections(text)
		pieces := chunk.Chunk(text, chunk.Options{ChunkSizeTokens: 400, OverlapTokens: 40})
		sectionIDs := assignSectionIDs(text, sections, pieces)

		if p.index != nil {
			if err := p.index.StoreChunks(ctx, entry.CacheID, pieces, sectionIDs, "default"); err != nil {
				return fmt.Errorf("index local document %s: %w", path, err)
			}
		}

		result.Blocks = append(result.Blocks, Block{URLOrHandle: handle, Label: LabelFullContent, TokenEstimate: tokenEstimate(text)})
	}
	return nil
}

// assignSectionIDs resolves each chunk to the section containing it by
// locating the chunk's text in the source document and mapping that byte
// offset through the section boundaries, rather than assuming chunk count
// lines up with section count. Chunking re-joins sentences with single
// spaces, so only a bounded prefix of each chunk's text is searched for —
// matching on the full (possibly whitespace-altered) text would miss runs
// spanning collapsed newlines.
func assignSectionIDs(text string, sections []chunk.Section, pieces []chunk.Piece) map[int]string {
	out := map[int]string{}
	if len(sections) == 0 {
		return out
	}
	const needleLen = 80
	searchFrom := 0
	for _, piece := range pieces {
		needle := piece.Text
		if len(needle) > needleLen {
			needle = needle[:needleLen]
		}
		offset := strings.Index(text[searchFrom:], needle)
		if offset < 0 {
			out[piece.Index] = sections[len(sections)-1].SectionID
			continue
		}
		byteStart := searchFrom + offset
		out[piece.Index] = sectionForByte(sections, byteStart)
		searchFrom = byteStart + 1
	}
	return out
}

func sectionForByte(sections []chunk.Section, byteOffset int) string {
	for _, s := range sections {
		if byteOffset >= s.ByteStart && byteOffset < s.ByteEnd {
			return s.SectionID
		}
	}
	return sections[len(sections)-1].SectionID
}

func cacheIDFor(path string) string {
	h := strings.NewReplacer("/", "-", " ", "_").Replace(path)
	return strings.Trim(h, "-")
}

func underAllowedRoot(path string, roots []string) bool {
	if len(roots) == 0 {
		return false
	}
	for _, r := range roots {
		if strings.HasPrefix(path, r) {
			return true
		}
	}
	return false
}
