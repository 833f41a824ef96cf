// Package search implements the paginated search traversal: a Source
// describes what to look for and a Scanner streams every matching item,
// one page at a time, into the engine's work queue.
package search

import (
	"context"
	"fmt"
)

// Item is one remote record as returned by the search endpoint. Items
// are opaque to the engine; only the extracted ID is interpreted.
type Item map[string]any

// Query is the caller-constructed filter expression. It is passed
// unchanged to the remote endpoint on every page request.
type Query any

// Source is the caller-supplied search strategy: which endpoint to hit,
// what to ask for, and how to identify one result item.
type Source interface {
	// Endpoint returns the search endpoint path, e.g. "conversations/search".
	Endpoint() string

	// BuildQuery returns the filter expression for the search payload.
	BuildQuery() (Query, error)

	// ExtractItemID returns the unique ID of one search result item.
	ExtractItemID(item Item) (string, error)
}

// Filter is an optional admission hook consulted for every discovered
// item ID. Items that are not admitted are dropped before they reach the
// work queue. The engine itself never de-duplicates; callers that need
// it supply a Filter (see pkg/dedupe).
type Filter interface {
	Admit(ctx context.Context, id string) (bool, error)
}

// Discovered is one item on its way from search to a worker. ExtractErr
// is set when the item could not be identified; the engine records such
// items as permanent failures without invoking the action.
type Discovered struct {
	ID         string
	Item       Item
	ExtractErr error
}

// Failure is a run-fatal search error: a page fetch that exhausted the
// retry policy or returned an unparseable response. Items discovered
// before the failure are still processed.
type Failure struct {
	Page int
	Err  error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("search failed on page %d: %v", f.Page, f.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}
