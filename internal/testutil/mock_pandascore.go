// Package testutil provides a mock PandaScore server and an in-memory
// destination store for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPandaScore is a configurable fake of the PandaScore API and its image CDN.
type MockPandaScore struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int

	requestCount      int
	lastRequestHeader http.Header
}

// NewMockPandaScore starts the mock server.
func NewMockPandaScore() *MockPandaScore {
	m := &MockPandaScore{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.hits[r.URL.Path]++
		m.lastRequestHeader = r.Header.Clone()
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockPandaScore) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPandaScore) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path.
func (m *MockPandaScore) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockPandaScore) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves records at path, sliced by the page and per_page
// query parameters. Pages past the end are empty arrays.
func (m *MockPandaScore) SetCollection(path string, records []map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 {
			perPage = 100
		}

		start := (page - 1) * perPage
		end := start + perPage
		if start > len(records) {
			start = len(records)
		}
		if end > len(records) {
			end = len(records)
		}

		batch := records[start:end]
		if batch == nil {
			batch = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(batch)
	})
}

// SetImage serves data at path after answering the first failures requests
// with 503.
func (m *MockPandaScore) SetImage(path string, data []byte, failures int) {
	var mu sync.Mutex
	served := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		fail := served <= failures
		mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockPandaScore) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Hits returns the number of requests made to path.
func (m *MockPandaScore) Hits(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockPandaScore) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// NewRecords builds n league-like records with ids starting at firstID.
func NewRecords(firstID, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		id := firstID + i
		out[i] = map[string]any{
			"id":   id,
			"slug": "league-" + strconv.Itoa(id),
			"name": "League " + strconv.Itoa(id),
		}
	}
	return out
}
