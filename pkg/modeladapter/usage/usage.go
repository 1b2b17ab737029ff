// Package usage provides token accounting for LLM calls.
package usage

import "sync"

// TokenCount holds input (prompt) and output (completion) token counts for a
// single LLM call. Estimated is set when the counts were computed locally
// because the backend did not report them.
type TokenCount struct {
	InputTokens  int
	OutputTokens int
	Estimated    bool
}

// Total returns the sum of input and output tokens.
func (tc TokenCount) Total() int {
	return tc.InputTokens + tc.OutputTokens
}

// Plus returns the element-wise sum of tc and o. The result is estimated if
// either operand is.
func (tc TokenCount) Plus(o TokenCount) TokenCount {
	return TokenCount{
		InputTokens:  tc.InputTokens + o.InputTokens,
		OutputTokens: tc.OutputTokens + o.OutputTokens,
		Estimated:    tc.Estimated || o.Estimated,
	}
}

// Tracker accumulates token usage across multiple LLM calls.
// It is safe for concurrent use. The zero value is ready to use.
type Tracker struct {
	mu      sync.Mutex
	entries []TokenCount
}

// Add records a token count entry.
func (t *Tracker) Add(tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, tc)
}

// Last returns the most recent token count entry.
// The bool is false when the tracker has no entries.
func (t *Tracker) Last() (TokenCount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return TokenCount{}, false
	}

	return t.entries[len(t.entries)-1], true
}

// Total returns the aggregate token count across all entries.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total TokenCount
	for _, e := range t.entries {
		total = total.Plus(e)
	}

	return total
}

// Entries returns a copy of the recorded entries in insertion order.
func (t *Tracker) Entries() []TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TokenCount, len(t.entries))
	copy(out, t.entries)

	return out
}

// Count returns the number of recorded entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Reset clears all recorded entries.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = nil
}
