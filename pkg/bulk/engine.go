// Package bulk implements the generic bulk-processing engine: a single
// search producer feeding a bounded work queue, a fixed pool of workers
// applying an action to each discovered item under the shared rate
// budget and retry policy, and exact result aggregation.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rkoehl/intercom-bulk/pkg/client"
	"github.com/rkoehl/intercom-bulk/pkg/retry"
	"github.com/rkoehl/intercom-bulk/pkg/search"
)

// Prometheus metrics for engine runs.
var (
	itemsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulk_items_discovered_total",
		Help: "Total items discovered by search across runs",
	})

	itemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_items_processed_total",
		Help: "Total items with a terminal result by outcome",
	}, []string{"outcome"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulk_run_duration_seconds",
		Help:    "Duration of complete engine runs",
		Buckets: []float64{1, 10, 60, 300, 1800, 7200},
	})
)

// MaxWorkers is the hard ceiling on the worker pool size. A higher
// configured value is clamped so a misconfiguration cannot overwhelm the
// remote service.
const MaxWorkers = 100

// ErrInvalidConfig is returned before any I/O when the run configuration
// is unusable.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// SkipReasonCancelled marks items that never completed because the run
// was cancelled.
const SkipReasonCancelled = "cancelled"

// UnidentifiedItemID is the placeholder ID recorded for items whose ID
// could not be extracted, so they stand out in result summaries instead
// of appearing as blanks.
const UnidentifiedItemID = "(unidentified)"

// Action is the caller-supplied mutation strategy: perform the remote
// action for one item. Implementations report failures as classified
// errors (transient vs permanent, see pkg/client); the engine wraps each
// invocation in the retry policy and never calls Perform concurrently
// for the same item.
type Action interface {
	Perform(ctx context.Context, itemID string, item search.Item) error
}

// Config holds the run configuration. The zero value gets safe defaults.
type Config struct {
	// Workers is the fixed worker pool size (default: 15, clamped to
	// MaxWorkers).
	Workers int

	// PageSize is the search page size (default: 50).
	PageSize int

	// MaxItems bounds discovery; 0 means unbounded.
	MaxItems int

	// QueueSize is the bounded work queue capacity (default: 2x
	// PageSize). The producer blocks when it is full, so memory stays
	// bounded regardless of result-set size.
	QueueSize int

	// Policy is the retry policy for both page fetches and actions.
	Policy retry.Policy

	// Filter is an optional admission hook passed to the search scanner.
	Filter search.Filter

	// ProgressInterval is the cadence of progress log lines (default:
	// 10s; <0 disables).
	ProgressInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = 15
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.PageSize == 0 {
		c.PageSize = 50
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.PageSize
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 10 * time.Second
	}
	return c
}

func (c Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0 (got %d)", ErrInvalidConfig, c.Workers)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page size must be >= 0 (got %d)", ErrInvalidConfig, c.PageSize)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("%w: max items must be >= 0 (got %d)", ErrInvalidConfig, c.MaxItems)
	}
	return nil
}

// Engine orchestrates one bulk operation: search -> bounded queue ->
// worker pool -> aggregated report.
type Engine struct {
	client *client.Client
	source search.Source
	action Action
	config Config
	logger zerolog.Logger
}

// New creates an engine. Configuration is validated here, before any
// I/O.
func New(c *client.Client, source search.Source, action Action, cfg Config) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: search source is required", ErrInvalidConfig)
	}
	if action == nil {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Engine{
		client: c,
		source: source,
		action: action,
		config: cfg.withDefaults(),
		logger: log.With().Str("component", "bulk-engine").Logger(),
	}, nil
}

// Run executes the bulk operation and blocks until every discovered item
// has a terminal result. The returned report is always non-nil; the
// error is non-nil only for run-fatal conditions (search failure), in
// which case the report reflects the partial run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.Start(ctx).Wait()
}

// Start launches the run asynchronously and returns its handle.
func (e *Engine) Start(ctx context.Context) *Handle {
	runCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		prog:   newProgress(),
	}

	go e.run(runCtx, h)
	return h
}

// run is the orchestration body: it owns the producer, the forwarder,
// the worker pool, and finalization.
func (e *Engine) run(ctx context.Context, h *Handle) {
	cfg := e.config
	start := time.Now()

	e.logger.Info().
		Int("workers", cfg.Workers).
		Int("page_size", cfg.PageSize).
		Int("max_items", cfg.MaxItems).
		Str("endpoint", e.source.Endpoint()).
		Msg("Starting bulk run")

	scanner := search.NewScanner(e.client, e.source, search.Config{
		PageSize: cfg.PageSize,
		MaxItems: cfg.MaxItems,
		Policy:   cfg.Policy,
		Filter:   cfg.Filter,
	})

	found := make(chan search.Discovered)
	queue := make(chan search.Discovered, cfg.QueueSize)

	// Producer: drives the paginated search. Its error (if any) decides
	// the run-level status.
	var searchErr error
	go func() {
		defer close(found)
		_, searchErr = scanner.Run(ctx, found)
	}()

	// Forwarder: moves items into the bounded queue and counts them as
	// discovered/in-flight in the same step, so the counts invariant
	// holds for queued items too.
	go func() {
		defer close(queue)
		for d := range found {
			h.prog.addDiscovered()
			itemsDiscoveredTotal.Inc()
			queue <- d
		}
	}()

	// Fixed worker pool.
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for d := range queue {
				h.prog.record(e.processOne(ctx, d))
			}
			e.logger.Debug().Int("worker_id", workerID).Msg("Worker drained")
		}(i)
	}

	// Periodic progress reporting, in the spirit of the original
	// batch-by-batch output.
	stopProgress := make(chan struct{})
	if cfg.ProgressInterval > 0 {
		go e.logProgress(h, stopProgress)
	}

	wg.Wait()
	close(stopProgress)

	// Cancellation, explicit or by deadline, is a normal way to end a
	// run, not a search failure.
	if searchErr != nil && cancellation(searchErr) {
		searchErr = nil
	}

	status := StatusCompleted
	if searchErr != nil {
		status = StatusAbortedFatal
	}
	report := h.prog.snapshot(status)
	runDurationSeconds.Observe(time.Since(start).Seconds())

	evt := e.logger.Info()
	if searchErr != nil {
		evt = e.logger.Error().Err(searchErr)
	}
	evt.
		Str("status", string(status)).
		Int("discovered", report.Counts.Discovered).
		Int("succeeded", report.Counts.Succeeded).
		Int("failed", report.Counts.Failed).
		Int("skipped", report.Counts.Skipped).
		Dur("duration", report.Elapsed).
		Msg("Bulk run finished")

	h.finish(report, searchErr)
}

// processOne takes one item to its terminal result: permanent failure
// for unidentifiable items, skip when the run is cancelled, otherwise
// the action under the retry policy. Per-attempt contexts are detached
// from the cancel signal so in-flight attempts finish; cancellation only
// prevents new attempts.
func (e *Engine) processOne(ctx context.Context, d search.Discovered) AttemptResult {
	start := time.Now()

	if d.ExtractErr != nil {
		// The raw item goes to the log so operators can locate the
		// malformed record.
		e.logger.Warn().
			Err(d.ExtractErr).
			Interface("item", d.Item).
			Msg("Item without usable ID")
		return AttemptResult{
			ItemID:  UnidentifiedItemID,
			Outcome: OutcomePermanentFailure,
			Reason:  fmt.Sprintf("extract item id: %v", d.ExtractErr),
			Elapsed: time.Since(start),
		}
	}

	attempts, err := e.config.Policy.Do(ctx, func() error {
		return e.action.Perform(context.WithoutCancel(ctx), d.ID, d.Item)
	})

	res := AttemptResult{
		ItemID:   d.ID,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeSuccess
	case cancellation(err):
		res.Outcome = OutcomeSkipped
		res.Reason = SkipReasonCancelled
	default:
		res.Outcome = OutcomePermanentFailure
		res.Reason = err.Error()
		e.logger.Warn().
			Err(err).
			Str("item_id", d.ID).
			Int("attempts", attempts).
			Msg("Item failed permanently")
	}

	return res
}

// cancellation reports whether err is the run context ending, by
// explicit cancel or by deadline. Call-level timeouts surface through
// the retry chain wrapped in ErrExhausted and are real failures, not
// cancellations.
func cancellation(err error) bool {
	if errors.Is(err, retry.ErrExhausted) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// logProgress emits a progress line on the configured cadence until the
// run ends.
func (e *Engine) logProgress(h *Handle, stop <-chan struct{}) {
	ticker := time.NewTicker(e.config.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := h.Snapshot()
			rate := 0.0
			if secs := snap.Elapsed.Seconds(); secs > 0 {
				rate = float64(snap.Counts.Succeeded+snap.Counts.Failed+snap.Counts.Skipped) / secs
			}
			e.logger.Info().
				Int("discovered", snap.Counts.Discovered).
				Int("succeeded", snap.Counts.Succeeded).
				Int("failed", snap.Counts.Failed).
				Int("skipped", snap.Counts.Skipped).
				Int("in_flight", snap.Counts.InFlight).
				Float64("rate_per_sec", rate).
				Msg("Progress")
		}
	}
}
