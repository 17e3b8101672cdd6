// Package testutil provides testing utilities for the SEO shield proxy.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockRenderResponse defines the behavior of the mock render service for one
// target URL.
type MockRenderResponse struct {
	StatusCode   int
	Body         string
	OriginStatus int
	Headers      map[string]string
	Delay        time.Duration
}

// MockRenderService is a configurable fake of the headless render service.
// Requests arrive as GET /render?url=<target>&wait=<profile>.
type MockRenderService struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockRenderResponse

	// Tracking
	RequestCount    int
	LastWaitProfile string
	LastAuthHeader  string
}

// NewMockRenderService creates a started mock render service.
func NewMockRenderService() *MockRenderService {
	mock := &MockRenderService{
		responses: make(map[string]MockRenderResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastWaitProfile = r.URL.Query().Get("wait")
		mock.LastAuthHeader = r.Header.Get("Authorization")
		resp, scripted := mock.responses[target]
		mock.mu.Unlock()

		if !scripted {
			mock.defaultHandler(w, target)
			return
		}

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		setBudgetHeaders(w, "100", "60")
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if resp.OriginStatus != 0 {
			w.Header().Set("X-Origin-Status", fmt.Sprintf("%d", resp.OriginStatus))
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockRenderService) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRenderService) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and scripted responses.
func (m *MockRenderService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastWaitProfile = ""
	m.LastAuthHeader = ""
	m.responses = make(map[string]MockRenderResponse)
}

// SetPage scripts a successful render of html for a target URL.
func (m *MockRenderService) SetPage(target, html string) {
	m.SetResponse(target, MockRenderResponse{
		StatusCode: http.StatusOK,
		Body:       html,
	})
}

// SetResponse scripts the full response for a target URL.
func (m *MockRenderService) SetResponse(target string, resp MockRenderResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[target] = resp
}

// GetRequestCount returns the number of render requests received.
func (m *MockRenderService) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler renders a minimal page for any unscripted target.
func (m *MockRenderService) defaultHandler(w http.ResponseWriter, target string) {
	setBudgetHeaders(w, "100", "60")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><head><title>%s</title></head><body>rendered</body></html>", target)
}

func setBudgetHeaders(w http.ResponseWriter, remain, reset string) {
	w.Header().Set("X-Render-Budget-Remain", remain)
	w.Header().Set("X-Render-Budget-Reset", reset)
}

// NewServerErrorResponse creates a 500 response from the render service.
func NewServerErrorResponse() MockRenderResponse {
	return MockRenderResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "browser crashed"}`,
		Headers: map[string]string{
			"X-Render-Budget-Remain": "95",
			"X-Render-Budget-Reset":  "60",
			"Content-Type":           "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 response from the render service.
func NewRateLimitResponse() MockRenderResponse {
	return MockRenderResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"X-Render-Budget-Remain": "5",
			"X-Render-Budget-Reset":  "30",
			"Content-Type":           "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundPageResponse creates a successful render of an origin 404 page.
func NewNotFoundPageResponse(html string) MockRenderResponse {
	return MockRenderResponse{
		StatusCode:   http.StatusOK,
		Body:         html,
		OriginStatus: http.StatusNotFound,
	}
}
