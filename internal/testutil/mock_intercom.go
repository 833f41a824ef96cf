// Package testutil provides testing utilities for the bulk engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockIntercom is a configurable in-process Intercom API for tests: a
// cursor-paginated conversation search endpoint plus action endpoints
// (close parts, tags, updates) with failure injection and per-item call
// accounting.
type MockIntercom struct {
	server *httptest.Server

	mu            sync.Mutex
	conversations []string
	remaining     int
	limitHeader   int

	// Failure injection.
	failTimes     map[string]int
	permanentFail map[string]struct{}
	searchFails   int
	searchBroken  bool
	searchBreakAt int
	actionDelay   time.Duration
	throttleAt    int
	retryAfter    int

	// Tracking.
	SearchCalls  int
	ActionCalls  map[string]int
	totalActions int
}

// NewMockIntercom creates a mock API seeded with the given conversation
// IDs. Callers must Close it.
func NewMockIntercom(conversationIDs []string) *MockIntercom {
	mock := &MockIntercom{
		conversations: conversationIDs,
		remaining:     1000,
		limitHeader:   10000,
		failTimes:     make(map[string]int),
		permanentFail: make(map[string]struct{}),
		ActionCalls:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock API base URL.
func (m *MockIntercom) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockIntercom) Close() {
	m.server.Close()
}

// FailTransiently makes the next n action calls for the given ID return
// 500 before succeeding.
func (m *MockIntercom) FailTransiently(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes[id] = n
}

// FailPermanently makes every action call for the given ID return 404.
func (m *MockIntercom) FailPermanently(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permanentFail[id] = struct{}{}
}

// FailSearch makes the next n search calls return 500.
func (m *MockIntercom) FailSearch(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchFails = n
}

// BreakSearch makes every search call return 500, so retries exhaust.
func (m *MockIntercom) BreakSearch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchBroken = true
}

// BreakSearchFrom makes every search call from the nth onward (1-based)
// return 500.
func (m *MockIntercom) BreakSearchFrom(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchBreakAt = n
}

// SetActionDelay adds latency to every action call.
func (m *MockIntercom) SetActionDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionDelay = d
}

// ThrottleOnCall makes the nth action call (1-based, counted across all
// items) return 429 with the given Retry-After.
func (m *MockIntercom) ThrottleOnCall(n, retryAfterSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleAt = n
	m.retryAfter = retryAfterSeconds
}

// SetRemaining controls the X-RateLimit-Remaining header value.
func (m *MockIntercom) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// TotalActionCalls returns the number of action calls across all items.
func (m *MockIntercom) TotalActionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalActions
}

func (m *MockIntercom) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.remaining))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limitHeader))
	m.mu.Unlock()

	switch {
	case r.URL.Path == "/conversations/search" && r.Method == http.MethodPost:
		m.handleSearch(w, r)
	case strings.HasPrefix(r.URL.Path, "/conversations/"):
		m.handleAction(w, r)
	default:
		http.NotFound(w, r)
	}
}

// searchRequest mirrors the engine's page request payload.
type searchRequest struct {
	Pagination struct {
		PerPage       int    `json:"per_page"`
		StartingAfter string `json:"starting_after"`
	} `json:"pagination"`
}

func (m *MockIntercom) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.SearchCalls++
	if m.searchBreakAt > 0 && m.SearchCalls >= m.searchBreakAt {
		m.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}
	if m.searchBroken || m.searchFails > 0 {
		if m.searchFails > 0 {
			m.searchFails--
		}
		m.mu.Unlock()
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}
	ids := m.conversations
	m.mu.Unlock()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	perPage := req.Pagination.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	offset := 0
	if req.Pagination.StartingAfter != "" {
		offset, _ = strconv.Atoi(req.Pagination.StartingAfter)
	}

	end := offset + perPage
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[offset:end:end]

	items := make([]map[string]any, 0, len(page))
	for _, id := range page {
		items = append(items, map[string]any{"id": id, "state": "open"})
	}

	body := map[string]any{
		"conversations": items,
		"total_count":   len(ids),
		"pages":         map[string]any{"total_pages": (len(ids) + perPage - 1) / perPage},
	}
	if end < len(ids) {
		body["pages"].(map[string]any)["next"] = map[string]any{
			"starting_after": strconv.Itoa(end),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// handleAction covers close parts (POST .../parts), tags (POST
// .../tags), and attribute updates (PUT /conversations/{id}).
func (m *MockIntercom) handleAction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/conversations/")
	id = strings.TrimSuffix(id, "/parts")
	id = strings.TrimSuffix(id, "/tags")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	delay := m.actionDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	m.ActionCalls[id]++
	m.totalActions++

	if m.throttleAt > 0 && m.totalActions == m.throttleAt {
		retryAfter := m.retryAfter
		m.mu.Unlock()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	if _, ok := m.permanentFail[id]; ok {
		m.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if m.failTimes[id] > 0 {
		m.failTimes[id]--
		m.mu.Unlock()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":%q,"state":"closed"}`, id)
}
