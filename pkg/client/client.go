// Package client provides the rate-limited HTTP transport for the bulk
// engine: JSON requests with auth headers, status classification, and
// rate budget feedback on every response.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rkoehl/intercom-bulk/pkg/ratelimit"
)

// Prometheus metrics for API call operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulk_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the production Intercom API root.
const DefaultBaseURL = "https://api.intercom.io"

// Config holds the transport configuration.
type Config struct {
	// BaseURL is the API root (default: DefaultBaseURL).
	BaseURL string

	// AccessToken is the bearer token for every request. Required.
	AccessToken string

	// UserAgent identifies this client to the remote service.
	UserAgent string

	// Timeout is the fixed per-call timeout (default: 30s).
	Timeout time.Duration

	// Budget is the shared per-run rate budget. Required: every call
	// reserves against it and feeds the response back into it.
	Budget *ratelimit.Budget
}

// Client is the HTTP transport used by search and action calls.
type Client struct {
	httpClient *http.Client
	config     Config
	budget     *ratelimit.Budget
	logger     zerolog.Logger
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrMissingConfig)
	}
	if cfg.Budget == nil {
		return nil, fmt.Errorf("%w: rate budget is required", ErrMissingConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{},
		config:     cfg,
		budget:     cfg.Budget,
		logger:     log.With().Str("component", "api-client").Logger(),
	}, nil
}

// PostJSON performs a POST with a JSON payload against an endpoint path
// and returns the response body. One call, no retries: retry policy is
// applied by the caller around this method.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Malformed(endpoint, fmt.Errorf("encode payload: %w", err))
	}
	return c.do(ctx, http.MethodPost, endpoint, body)
}

// PutJSON performs a PUT with a JSON payload against an endpoint path
// and returns the response body.
func (c *Client) PutJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Malformed(endpoint, fmt.Errorf("encode payload: %w", err))
	}
	return c.do(ctx, http.MethodPut, endpoint, body)
}

// GetJSON performs a GET against an endpoint path and returns the
// response body.
func (c *Client) GetJSON(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

// do issues one rate-limited request and classifies the outcome.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Block until the rate budget allows one call.
	if err := c.budget.Reserve(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.config.BaseURL+"/"+strings.TrimLeft(endpoint, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			Class:    ErrorClassNetwork,
			Endpoint: endpoint,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	// Feed server rate limit headers back into the shared budget so a
	// throttle signal seen here holds every worker.
	c.budget.RecordResponse(resp.StatusCode, resp.Header)

	apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			Class:    ErrorClassNetwork,
			Endpoint: endpoint,
			Message:  "read response body",
			Err:      err,
		}
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	return respBody, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
