// Package testutil provides testing utilities for the registry client.
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

// SearchPath is the path the mock serves full-studies searches on.
const SearchPath = "/api/query/full_studies"

// MockResponse defines a canned response returned instead of a search result.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock of the registry search endpoint.
// Studies are served by identifier; a query returns every known study whose
// identifier appears in its expression, plus any configured extras.
type MockRegistry struct {
	server *httptest.Server
	mu     sync.RWMutex

	studies   map[string]map[string]any
	extras    map[string][]map[string]any
	failures  map[string]MockResponse
	headers   map[string]string
	delay     time.Duration
	requests  []Request
	userAgent string
}

// Request records one search received by the mock.
type Request struct {
	Expression  string
	Identifiers []string
	MaxResults  int
}

// NewMockRegistry creates and starts a mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		studies:  make(map[string]map[string]any),
		extras:   make(map[string][]map[string]any),
		failures: make(map[string]MockResponse),
		headers:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SearchPath, mock.handleSearch)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server base URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// SearchURL returns the full search endpoint URL.
func (m *MockRegistry) SearchURL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// AddStudy registers a study under id. The study is stored as returned, so it
// should already carry the identifier at its canonical path (see NewStudy).
func (m *MockRegistry) AddStudy(id string, study map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studies[id] = study
}

// AddExtra makes every query naming id also return study.
// Useful to simulate registry responses containing unrequested studies.
func (m *MockRegistry) AddExtra(id string, study map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extras[id] = append(m.extras[id], study)
}

// FailFor makes every query naming id answer with resp.
func (m *MockRegistry) FailFor(id string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = resp
}

// SetHeader adds a header to every successful search response.
func (m *MockRegistry) SetHeader(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[key] = value
}

// SetDelay delays every response by d.
func (m *MockRegistry) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns a copy of the searches received so far.
func (m *MockRegistry) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of searches received.
func (m *MockRegistry) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastUserAgent returns the User-Agent of the most recent search.
func (m *MockRegistry) LastUserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userAgent
}

// Reset clears recorded requests.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.userAgent = ""
}

func (m *MockRegistry) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expr := q.Get("expr")
	ids := ParseExpression(expr)
	maxResults, _ := strconv.Atoi(q.Get("max_rnk"))

	m.mu.Lock()
	m.requests = append(m.requests, Request{Expression: expr, Identifiers: ids, MaxResults: maxResults})
	m.userAgent = r.Header.Get("User-Agent")
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range ids {
		if resp, ok := m.failures[id]; ok {
			writeResponse(w, resp)
			return
		}
	}

	var studies []map[string]any
	for _, id := range ids {
		if s, ok := m.studies[id]; ok {
			studies = append(studies, s)
		}
		studies = append(studies, m.extras[id]...)
	}
	if maxResults > 0 && len(studies) > maxResults {
		studies = studies[:maxResults]
	}

	for k, v := range m.headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(FullStudiesBody(expr, studies))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// ParseExpression extracts identifiers from an AREA[NCTIdSearch](a OR b) expression.
func ParseExpression(expr string) []string {
	if i := strings.Index(expr, "]"); i >= 0 {
		expr = expr[i+1:]
	}
	expr = strings.TrimSuffix(strings.TrimPrefix(expr, "("), ")")
	if strings.TrimSpace(expr) == "" {
		return nil
	}

	parts := strings.Split(expr, " OR ")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// FullStudiesBody builds a full-studies response envelope around studies.
func FullStudiesBody(expr string, studies []map[string]any) map[string]any {
	full := make([]map[string]any, 0, len(studies))
	for i, s := range studies {
		full = append(full, map[string]any{
			"Rank":  i + 1,
			"Study": s,
		})
	}
	return map[string]any{
		"FullStudiesResponse": map[string]any{
			"APIVrs":           "1.01.05",
			"Expression":       expr,
			"NStudiesAvail":    400000,
			"NStudiesFound":    len(studies),
			"MinRank":          1,
			"MaxRank":          len(studies),
			"NStudiesReturned": len(studies),
			"FullStudies":      full,
		},
	}
}

// NewStudy returns a minimal registry study for id with an optional title and
// extra ProtocolSection modules merged in.
func NewStudy(id, title string, modules map[string]any) map[string]any {
	protocol := map[string]any{
		"IdentificationModule": map[string]any{
			"NCTId":      id,
			"BriefTitle": title,
		},
	}
	for k, v := range modules {
		protocol[k] = v
	}
	return map[string]any{
		"ProtocolSection": protocol,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewBadRequestResponse creates a 400 response as sent for malformed expressions.
func NewBadRequestResponse(detail string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf(`{"error": %q}`, detail),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}
