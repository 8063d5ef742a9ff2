package speech

import (
	"context"
	"sync"
)

// MockSpeaker records every request it receives.
type MockSpeaker struct {
	mu       sync.Mutex
	requests []Request
	err      error
}

func NewMockSpeaker() *MockSpeaker {
	return &MockSpeaker{}
}

// Fail makes subsequent Speak calls return err.
func (m *MockSpeaker) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockSpeaker) Speak(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.requests = append(m.requests, req)
	return nil
}

func (m *MockSpeaker) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Last returns the most recent request and whether there was one.
func (m *MockSpeaker) Last() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}
