package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockCompletionServer mocks an OpenAI-compatible chat completion API.
type MockCompletionServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []map[string]any
}

// NewMockCompletionServer creates a new mock completion server
func NewMockCompletionServer(t *testing.T) *MockCompletionServer {
	t.Helper()
	m := &MockCompletionServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns the decoded request bodies seen by the stream handler.
func (m *MockCompletionServer) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.requests...)
}

// MockStream adds a /chat/completions handler that streams deltas as SSE
// chunks followed by [DONE].
func (m *MockCompletionServer) MockStream(deltas ...string) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // best-effort capture
		m.mu.Lock()
		m.requests = append(m.requests, body)
		m.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			chunk := map[string]any{
				"id":     "chatcmpl-test",
				"object": "chat.completion.chunk",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]string{"content": d}},
				},
			}
			data, _ := json.Marshal(chunk) //nolint:errcheck // static shape
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

// MockError adds a /chat/completions handler that fails with status.
func (m *MockCompletionServer) MockError(status int, message string) {
	m.Handlers["/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		response := map[string]any{
			"error": map[string]string{"message": message, "type": "server_error"},
		}
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
