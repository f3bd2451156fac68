package engine

import (
	"sync"
	"time"
)

// UsageRecord is one accounted Chat call.
type UsageRecord struct {
	ModelAlias   string
	Role         string // "main" | "analysis" | "summarization"
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
}

// UsageTracker accumulates token usage per model alias and role across a
// run_turn call, so callers can report cost/usage without threading a
// running total through every LLM call site.
type UsageTracker struct {
	mu      sync.Mutex
	records []UsageRecord
}

func NewUsageTracker() *UsageTracker { return &UsageTracker{} }

func (u *UsageTracker) Record(modelAlias, role string, inputTokens, outputTokens int, now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, UsageRecord{
		ModelAlias: modelAlias, Role: role,
		InputTokens: inputTokens, OutputTokens: outputTokens, Timestamp: now,
	})
}

// Totals sums input/output tokens across every recorded call.
func (u *UsageTracker) Totals() (input, output int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range u.records {
		input += r.InputTokens
		output += r.OutputTokens
	}
	return input, output
}

// Records returns a snapshot of every recorded usage event.
func (u *UsageTracker) Records() []UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]UsageRecord, len(u.records))
	copy(out, u.records)
	return out
}
