package bulk

import (
	"context"
	"sync"
)

// Handle is the future-style view of an asynchronous run: wait for it,
// cancel it, or observe a live snapshot.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	prog   *progress

	mu     sync.Mutex
	report *Report
	err    error
}

// Wait blocks until the run ends and returns the finalized report. The
// report is always non-nil; the error is non-nil only when the run was
// aborted by a fatal condition.
func (h *Handle) Wait() (*Report, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report, h.err
}

// Cancel requests the run to stop: in-flight attempts finish, no new
// retries start, queued-but-unstarted items are recorded as skipped.
// Safe to call more than once.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel closed when the run ends.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns a consistent live view of the run's progress.
func (h *Handle) Snapshot() Report {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return *h.report
	default:
		return h.prog.snapshot(StatusRunning)
	}
}

// finish finalizes the handle. Called exactly once by the engine.
func (h *Handle) finish(report Report, err error) {
	h.mu.Lock()
	h.report = &report
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
