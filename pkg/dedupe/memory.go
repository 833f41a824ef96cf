// Package dedupe provides seen-ID admission filters. The bulk engine
// records duplicate items as separate results by design; callers that
// want de-duplication plug one of these filters into the search scanner.
package dedupe

import (
	"context"
	"sync"
)

// MemoryFilter admits each ID once for the lifetime of the filter. It is
// safe for concurrent use and suited to single-run de-duplication of
// items the cursor repeats across pages.
type MemoryFilter struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryFilter creates an empty in-memory filter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{seen: make(map[string]struct{})}
}

// Admit implements search.Filter.
func (f *MemoryFilter) Admit(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		return false, nil
	}
	f.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of distinct IDs seen so far.
func (f *MemoryFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
