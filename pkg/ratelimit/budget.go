package ratelimit

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulk_rate_limit_remaining",
		Help: "Remaining request quota in the current remote rate limit window",
	})

	rateLimitHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulk_rate_limit_holds_total",
		Help: "Total number of reservations that blocked on a throttle hold",
	})

	rateLimitThrottleSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulk_rate_limit_throttle_signals_total",
		Help: "Total number of 429 throttle signals observed",
	})
)

// Config holds budget configuration.
type Config struct {
	// RequestsPerSecond is the local pacing ceiling across all workers of
	// the run. <=0 disables pacing; the budget then only honors server
	// throttle signals.
	RequestsPerSecond float64

	// DefaultRetryAfter is the hold applied on a 429 without a usable
	// Retry-After header.
	DefaultRetryAfter time.Duration

	// Rand is the random source for the low-quota soft hold. Defaults to
	// math/rand.Float64.
	Rand func() float64
}

// DefaultConfig returns a safe default budget configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		DefaultRetryAfter: 5 * time.Second,
	}
}

// Budget is the shared rate limit state for one engine run. Every
// outbound call reserves against it first and feeds the response back
// into it. A throttle signal observed by one worker holds all of them.
type Budget struct {
	mu     sync.Mutex
	state  State
	pacer  *rate.Limiter
	config Config
	logger zerolog.Logger
}

// NewBudget creates a rate budget for a single run.
func NewBudget(cfg Config, logger zerolog.Logger) *Budget {
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 5 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Budget{
		state:  State{Remaining: RemainingUnknown},
		pacer:  pacer,
		config: cfg,
		logger: logger,
	}
}

// Reserve blocks until it is safe to issue one outbound call. Workers
// block (not spin) through any active throttle hold, then pass the local
// pacer. Returns the context error if ctx is done first.
func (b *Budget) Reserve(ctx context.Context) error {
	blocked := false
	for {
		b.mu.Lock()
		wait := b.state.TimeUntilAllowed()
		b.mu.Unlock()

		if wait <= 0 {
			break
		}
		if !blocked {
			blocked = true
			rateLimitHoldsTotal.Inc()
			b.logger.Warn().
				Dur("wait", wait).
				Msg("Rate limit hold active - blocking call")
		}

		// Re-check after waking: another worker's signal may have
		// extended the hold in the meantime.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if b.pacer != nil {
		return b.pacer.Wait(ctx)
	}
	return nil
}

// RecordResponse updates the budget from one response's status and
// headers. On 429 the hold is extended by the Retry-After hint; a low
// remaining quota triggers a short randomized hold.
func (b *Budget) RecordResponse(status int, headers http.Header) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if v, ok := intHeader(headers, "X-RateLimit-Remaining"); ok {
		b.state.Remaining = v
		b.state.LastUpdate = now
		rateLimitRemaining.Set(float64(v))
	}
	if v, ok := intHeader(headers, "X-RateLimit-Limit"); ok {
		b.state.Limit = v
	}

	if status == http.StatusTooManyRequests {
		retryAfter := b.config.DefaultRetryAfter
		if v, ok := intHeader(headers, "Retry-After"); ok && v > 0 {
			retryAfter = time.Duration(v) * time.Second
		}
		b.extendHold(now.Add(retryAfter))
		rateLimitThrottleSignalsTotal.Inc()

		b.logger.Warn().
			Dur("retry_after", retryAfter).
			Int("remaining", b.state.Remaining).
			Msg("Server throttle signal - holding all workers")
		return
	}

	if b.state.LowQuota() {
		soft := softHoldBase + time.Duration(b.config.Rand()*float64(softHoldBase))
		b.extendHold(now.Add(soft))

		b.logger.Warn().
			Int("remaining", b.state.Remaining).
			Int("limit", b.state.Limit).
			Dur("hold", soft).
			Msg("Approaching rate limit - slowing down")
		return
	}

	b.logger.Debug().
		Int("remaining", b.state.Remaining).
		Int("limit", b.state.Limit).
		Msg("Rate limit state updated")
}

// State returns a snapshot of the current budget state.
func (b *Budget) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// extendHold moves the hold deadline forward, never backward. Callers
// must hold b.mu.
func (b *Budget) extendHold(until time.Time) {
	if until.After(b.state.HoldUntil) {
		b.state.HoldUntil = until
	}
}

func intHeader(headers http.Header, key string) (int, bool) {
	raw := headers.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
