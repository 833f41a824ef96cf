// Package retry implements the retry policy for outbound calls: transient
// errors are retried with exponential backoff and jitter, permanent errors
// fail immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulk_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrExhausted is returned when all retry attempts are exhausted.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy holds the configuration for retry logic.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int

	// InitialBackoff is the backoff before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64

	// JitterFrac applies +/- jitter to backoff delays (0.2 = +/-20%).
	JitterFrac float64

	// Rand is the random source for jitter. Defaults to math/rand.Float64.
	// Injectable so BackoffDelay is testable without real timing.
	Rand func() float64
}

// Default returns the default retry policy.
func Default() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFrac:     0.2,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 1 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}
	if p.JitterFrac < 0 {
		p.JitterFrac = 0
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// ShouldRetry reports whether another attempt should be made after the
// given 1-based attempt number failed with err.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	p = p.withDefaults()
	if attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// BackoffDelay returns the delay before the retry following the given
// 1-based attempt number. Pure in everything but p.Rand.
func (p Policy) BackoffDelay(attempt int) time.Duration {
	p = p.withDefaults()

	delay := p.InitialBackoff
	for i := 1; i < attempt && delay < p.MaxBackoff; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
	}

	if p.JitterFrac <= 0 {
		return delay
	}
	j := 1 + (p.Rand()*2-1)*p.JitterFrac
	return time.Duration(float64(delay) * j)
}

// Do executes fn under the policy. It returns the number of attempts made
// and the final error (nil on success). The context gates backoff sleeps
// and new attempts; fn is responsible for its own per-call timeout.
func (p Policy) Do(ctx context.Context, fn func() error) (int, error) {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return attempt, nil
		}
		lastErr = err

		if !IsTransient(err) {
			// Permanent errors are never retried.
			return attempt, err
		}

		if attempt >= p.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(classLabel(err)).Inc()
			log.Warn().
				Int("max_attempts", p.MaxAttempts).
				Str("error_class", classLabel(err)).
				Msg("Retry attempts exhausted")
			return attempt, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
		}

		backoff := p.BackoffDelay(attempt)
		retriesTotal.WithLabelValues(classLabel(err)).Inc()
		retryBackoffSeconds.WithLabelValues(classLabel(err)).Observe(backoff.Seconds())

		log.Debug().
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Str("error_class", classLabel(err)).
			Msg("Retrying call after backoff")

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// classifier is implemented by errors that carry an error class label
// (see client.APIError).
type classifier interface {
	ErrorClass() string
}

// transienter is implemented by errors that know whether a retry can
// succeed.
type transienter interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying: a classified
// transient error, a deadline expiry, or a network timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te transienter
	if errors.As(err, &te) {
		return te.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// classLabel extracts the metric label for an error.
func classLabel(err error) string {
	var c classifier
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	return "network"
}
