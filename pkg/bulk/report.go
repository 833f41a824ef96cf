package bulk

import (
	"sync"
	"time"
)

// Outcome is the terminal classification of one item.
type Outcome string

const (
	// OutcomeSuccess means the action completed.
	OutcomeSuccess Outcome = "success"

	// OutcomePermanentFailure means the action failed with a
	// non-retryable error or exhausted the retry policy.
	OutcomePermanentFailure Outcome = "permanent_failure"

	// OutcomeSkipped means the action was never completed for a
	// non-error reason (e.g. run cancelled before the item started).
	OutcomeSkipped Outcome = "skipped"
)

// AttemptResult is the recorded outcome of one item. Exactly one is
// appended per discovered item; the log is ordered by completion time,
// not discovery time.
type AttemptResult struct {
	ItemID   string
	Outcome  Outcome
	Reason   string
	Attempts int
	Elapsed  time.Duration
}

// Counts are the aggregate counters of a run. Discovered equals
// Succeeded + Failed + Skipped + InFlight at every observable instant;
// InFlight covers items from the moment they enter the work queue until
// their terminal result is recorded.
type Counts struct {
	Discovered int
	Succeeded  int
	Failed     int
	Skipped    int
	InFlight   int
}

// RunStatus is the run-level result, distinct from per-item outcomes.
type RunStatus string

const (
	// StatusRunning is reported by snapshots of a live run.
	StatusRunning RunStatus = "running"

	// StatusCompleted means every discovered item has a terminal result
	// and the search traversal finished.
	StatusCompleted RunStatus = "completed"

	// StatusAbortedFatal means the search traversal failed; items
	// discovered before the failure were still drained.
	StatusAbortedFatal RunStatus = "aborted"
)

// Report is a consistent view of a run: live snapshot while running,
// finalized value once the run ends.
type Report struct {
	Status  RunStatus
	Counts  Counts
	Results []AttemptResult
	Elapsed time.Duration
}

// progress is the engine's single mutation point for run state. All
// updates go through its mutex; workers share nothing else.
type progress struct {
	mu      sync.Mutex
	counts  Counts
	results []AttemptResult
	started time.Time
}

func newProgress() *progress {
	return &progress{started: time.Now()}
}

// addDiscovered records one item entering the work queue.
func (p *progress) addDiscovered() {
	p.mu.Lock()
	p.counts.Discovered++
	p.counts.InFlight++
	p.mu.Unlock()
}

// record appends the terminal result for one item.
func (p *progress) record(res AttemptResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts.InFlight--
	switch res.Outcome {
	case OutcomeSuccess:
		p.counts.Succeeded++
	case OutcomePermanentFailure:
		p.counts.Failed++
	case OutcomeSkipped:
		p.counts.Skipped++
	}
	p.results = append(p.results, res)

	itemsProcessedTotal.WithLabelValues(string(res.Outcome)).Inc()
}

// snapshot returns a consistent copy of the current state.
func (p *progress) snapshot(status RunStatus) Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]AttemptResult, len(p.results))
	copy(results, p.results)

	return Report{
		Status:  status,
		Counts:  p.counts,
		Results: results,
		Elapsed: time.Since(p.started),
	}
}
