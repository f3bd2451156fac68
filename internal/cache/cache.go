// Package cache implements the content/link cache described in the
// retrieval core's data model: one row per normalized source, TTL-driven
// freshness, and forward invalidation into the hybrid index when content
// or links actually change.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
	"github.com/northlight-ai/corex/internal/storage/badger"
	"github.com/northlight-ai/corex/internal/urlnorm"
)

// InvalidationKind tells the index which dependent rows to drop.
type InvalidationKind string

const (
	InvalidateChunks InvalidationKind = "chunks"
	InvalidateLinks  InvalidationKind = "links"
)

// Invalidator is implemented by the hybrid index. Cache calls it
// synchronously, before committing new hashes, per the cache-coherent
// invalidation invariant in the data model.
type Invalidator interface {
	Invalidate(cacheID string, kind InvalidationKind) error
}

// DefaultTTL is the fallback freshness window when an entry omits one.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "cache:entry:"

// Cache is the content/link cache. It owns the CacheEntry schema; the
// hybrid index references rows by CacheID only.
type Cache struct {
	mu          sync.RWMutex
	db          *badger.DB
	invalidator Invalidator
	clock       llm.Clock
	defaultTTL  time.Duration
	logger      *slog.Logger

	byURL map[string]string // canonical URL -> cache id, in-process index
}

// New constructs a Cache over an already-open Badger store, rehydrating the
// canonical-URL->id index from whatever rows the store already holds.
// invalidator may be nil during bootstrap (e.g. constructing the index
// itself), in which case Put skips invalidation calls — callers must wire
// it before serving real writes.
func New(db *badger.DB, invalidator Invalidator, clock llm.Clock, logger *slog.Logger) (*Cache, error) {
	if clock == nil {
		clock = llm.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		db:          db,
		invalidator: invalidator,
		clock:       clock,
		defaultTTL:  DefaultTTL,
		logger:      logger,
		byURL:       make(map[string]string),
	}
	if err := c.rehydrate(); err != nil {
		return nil, fmt.Errorf("cache: rehydrate url index: %w", err)
	}
	return c, nil
}

// rehydrate rebuilds byURL from persisted rows so a process restart doesn't
// orphan previously cached entries behind an empty in-process index: every
// row becomes unreachable by URL (and so never re-expires) until the next
// time it happens to be Put again.
func (c *Cache) rehydrate() error {
	return c.db.ForEachGob(keyPrefix, func() any { return &datatypes.CacheEntry{} }, func(_ string, dst any) error {
		entry := dst.(*datatypes.CacheEntry)
		c.byURL[entry.CanonicalURL] = entry.CacheID
		return nil
	})
}

// SetInvalidator wires the hybrid index after both are constructed,
// breaking the cache<->index construction cycle.
func (c *Cache) SetInvalidator(inv Invalidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidator = inv
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func hashLinks(links []datatypes.Link) string {
	sorted := make([]string, len(links))
	for i, l := range links {
		sorted[i] = l.URL + "\t" + l.AnchorText
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Get returns the cache row for a raw URL or corpus handle, or
// (nil, false) when absent.
func (c *Cache) Get(raw string) (*datatypes.CacheEntry, bool, error) {
	id, err := c.resolveID(raw)
	if err != nil {
		return nil, false, err
	}
	if id == "" {
		return nil, false, nil
	}
	var entry datatypes.CacheEntry
	if err := c.db.GetGob(keyPrefix+id, &entry); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &entry, true, nil
}

func (c *Cache) resolveID(raw string) (string, error) {
	if urlnorm.IsHandle(raw) {
		return strings.TrimPrefix(raw, "corpus://cache/"), nil
	}
	canonical, err := urlnorm.Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("cache: normalize %q: %w", raw, err)
	}
	c.mu.RLock()
	id := c.byURL[canonical]
	c.mu.RUnlock()
	return id, nil
}

// IsFresh reports whether the entry for raw exists and is within its TTL.
func (c *Cache) IsFresh(raw string) (bool, error) {
	entry, ok, err := c.Get(raw)
	if err != nil || !ok {
		return false, err
	}
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.clock.Now().Before(entry.FetchedAt.Add(ttl)), nil
}

// Put upserts content for a URL. If the new content_hash or links_hash
// differs from the stored value, dependent index rows are invalidated
// BEFORE the new hashes are committed, so a crash between invalidation and
// commit is self-healing: the stored row still carries the old hashes, so
// the next Put for the same URL compares against them and re-invalidates.
func (c *Cache) Put(rawURL, content string, links []datatypes.Link, ttl time.Duration) (*datatypes.CacheEntry, error) {
	var canonical string
	if urlnorm.IsHandle(rawURL) {
		// Local-corpus handles carry their own stable id (derived from the
		// source path); keep canonical == handle so Get's handle shortcut
		// resolves to the same id Put assigns here.
		canonical = rawURL
	} else {
		normalized, err := urlnorm.Normalize(rawURL)
		if err != nil {
			return nil, fmt.Errorf("cache: normalize %q: %w", rawURL, err)
		}
		canonical = normalized
	}

	c.mu.Lock()
	id, existed := c.byURL[canonical]
	if !existed {
		if urlnorm.IsHandle(rawURL) {
			id = strings.TrimPrefix(rawURL, "corpus://cache/")
		} else {
			id = uuid.NewString()
		}
	}
	c.mu.Unlock()

	newContentHash := hashContent(content)
	newLinksHash := hashLinks(links)

	var prev datatypes.CacheEntry
	hadPrev := false
	if existed {
		if err := c.db.GetGob(keyPrefix+id, &prev); err == nil {
			hadPrev = true
		}
	}

	if hadPrev && prev.ContentHash != newContentHash {
		if err := c.invalidate(id, InvalidateChunks); err != nil {
			return nil, fmt.Errorf("cache: invalidate chunks for %s: %w", id, err)
		}
	}
	if hadPrev && prev.LinksHash != newLinksHash {
		if err := c.invalidate(id, InvalidateLinks); err != nil {
			return nil, fmt.Errorf("cache: invalidate links for %s: %w", id, err)
		}
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := datatypes.CacheEntry{
		CacheID:      id,
		CanonicalURL: canonical,
		ContentText:  content,
		Links:        links,
		FetchedAt:    c.clock.Now(),
		TTLSeconds:   int64(ttl / time.Second),
		ContentHash:  newContentHash,
		LinksHash:    newLinksHash,
	}
	if err := c.db.SetGob(keyPrefix+id, &entry, 0); err != nil {
		return nil, fmt.Errorf("cache: store %s: %w", id, err)
	}

	c.mu.Lock()
	c.byURL[canonical] = id
	c.mu.Unlock()

	return &entry, nil
}

func (c *Cache) invalidate(cacheID string, kind InvalidationKind) error {
	c.mu.RLock()
	inv := c.invalidator
	c.mu.RUnlock()
	if inv == nil {
		return nil
	}
	return inv.Invalidate(cacheID, kind)
}

// InvalidateNow force-invalidates both chunk and link state for a cache id,
// used by explicit re-ingestion flows.
func (c *Cache) InvalidateNow(cacheID string) error {
	if err := c.invalidate(cacheID, InvalidateChunks); err != nil {
		return err
	}
	return c.invalidate(cacheID, InvalidateLinks)
}

// BulkExpire evicts every row whose TTL has elapsed as of now. It is run
// once at startup as a best-effort sweep. Rows are not evicted on read:
// between sweeps Get still returns an expired row, and IsFresh reports it
// as stale without removing it.
func (c *Cache) BulkExpire(now time.Time) (expired int, err error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.byURL))
	for _, id := range c.byURL {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		var entry datatypes.CacheEntry
		if err := c.db.GetGob(keyPrefix+id, &entry); err != nil {
			continue
		}
		ttl := time.Duration(entry.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		if now.After(entry.FetchedAt.Add(ttl)) {
			if err := c.db.Delete(keyPrefix + id); err != nil {
				c.logger.Warn("cache: bulk expire delete failed", slog.String("cache_id", id), slog.Any("err", err))
				continue
			}
			c.mu.Lock()
			delete(c.byURL, entry.CanonicalURL)
			c.mu.Unlock()
			expired++
		}
	}
	return expired, nil
}
