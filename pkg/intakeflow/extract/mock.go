package extract

import (
	"context"
	"sync"
)

// MockCompleter returns canned completions. Responses cycle in order; an
// Err, when set, is returned instead. A non-nil Block makes each call wait
// until the channel closes or the context ends.
type MockCompleter struct {
	mu        sync.Mutex
	responses []string
	next      int
	calls     []CompletionRequest

	Err   error
	Block chan struct{}
}

// NewMockCompleter creates a mock that answers with responses in turn.
func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{responses: responses}
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	content := ""
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	return &CompletionResponse{Content: content, FinishReason: "stop", Model: "mock"}, nil
}

// Calls returns the requests received so far.
func (m *MockCompleter) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}
