package engine

import (
	"context"
	"fmt"

	"github.com/northlight-ai/corex/internal/datatypes"
	"github.com/northlight-ai/corex/internal/llm"
)

// ContextOverflow is returned when compaction could not bring a history
// under budget; the caller (run_turn) surfaces it as a structured error
// carrying the messages that survived compaction.
type ContextOverflow struct {
	CompactedMessages []datatypes.Message
}

func (e *ContextOverflow) Error() string {
	return fmt.Sprintf("context overflow after compaction: %d messages remain over budget", len(e.CompactedMessages))
}

// CompactionThreshold is the fraction of a model's context window at which
// proactive compaction runs, before the next Chat call is issued.
const CompactionThreshold = 0.80

// compact runs the two-pass compaction strategy: a smart pass that
// replaces large tool-result messages with their cached summaries, then
// (if still over budget) a destructive pass that drops the oldest
// non-system messages, always preserving the system message and the most
// recent user turn. If the destructive pass still can't fit, the caller
// returns ContextOverflow with whatever survived.
func compact(ctx context.Context, history []datatypes.Message, contextWindow int, tok tokenCounter) ([]datatypes.Message, bool, error) {
	budget := int(float64(contextWindow) * CompactionThreshold)
	if totalTokens(history, tok) <= budget {
		return history, false, nil
	}

	smart := smartPass(history)
	if totalTokens(smart, tok) <= budget {
		return smart, true, nil
	}

	destructive := destructivePass(smart, budget, tok)
	return destructive, true, nil
}

// forceCompact runs both compaction passes unconditionally, used when the
// provider itself rejects a request as oversized (HTTP 400) even though the
// local token estimate looked under budget — the provider's tokenizer is
// the ground truth here, not ours.
func forceCompact(history []datatypes.Message, contextWindow int, tok tokenCounter) []datatypes.Message {
	budget := int(float64(contextWindow) * CompactionThreshold)
	smart := smartPass(history)
	if totalTokens(smart, tok) <= budget {
		return smart
	}
	return destructivePass(smart, budget, tok)
}

// tokenCounter is the minimal surface compaction needs from a Tokenizer.
type tokenCounter interface {
	Count(text string) int
}

func totalTokens(history []datatypes.Message, tok tokenCounter) int {
	total := 0
	for _, m := range history {
		if m.TokenCount > 0 {
			total += m.TokenCount
			continue
		}
		total += tok.Count(m.Content)
	}
	return total
}

// smartPass replaces tool-result message content with its pre-computed
// summary where one exists, cheaply shrinking large tool outputs (e.g. a
// full fetched page) without losing the system/user turns.
func smartPass(history []datatypes.Message) []datatypes.Message {
	out := make([]datatypes.Message, len(history))
	for i, m := range history {
		if m.Role == string(llm.RoleTool) && m.Summary != "" {
			m.Content = m.Summary
			m.TokenCount = 0
		}
		out[i] = m
	}
	return out
}

// destructivePass drops the oldest non-system messages until the
// remaining set fits budget, always preserving every system message and
// the last user message.
func destructivePass(history []datatypes.Message, budget int, tok tokenCounter) []datatypes.Message {
	lastUserIdx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == string(llm.RoleUser) {
			lastUserIdx = i
			break
		}
	}

	preserved := map[int]bool{}
	for i, m := range history {
		if m.Role == string(llm.RoleSystem) || i == lastUserIdx {
			preserved[i] = true
		}
	}

	kept := make([]datatypes.Message, 0, len(history))
	for i, m := range history {
		if preserved[i] {
			kept = append(kept, m)
		}
	}

	// Re-add the newest non-preserved messages, oldest-dropped-first,
	// until the budget runs out.
	var candidates []int
	for i := len(history) - 1; i >= 0; i-- {
		if !preserved[i] {
			candidates = append(candidates, i)
		}
	}
	current := totalTokens(kept, tok)
	var reinstated []int
	for _, i := range candidates {
		cost := history[i].TokenCount
		if cost == 0 {
			cost = tok.Count(history[i].Content)
		}
		if current+cost > budget {
			continue
		}
		current += cost
		reinstated = append(reinstated, i)
	}

	indices := map[int]bool{}
	for i := range preserved {
		indices[i] = true
	}
	for _, i := range reinstated {
		indices[i] = true
	}

	out := make([]datatypes.Message, 0, len(indices))
	for i, m := range history {
		if indices[i] {
			out = append(out, m)
		}
	}
	return out
}
