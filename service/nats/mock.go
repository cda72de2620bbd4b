package nats

import (
	"context"
	"sync"
)

// MockPublisher records transaction events in memory.
type MockPublisher struct {
	mu     sync.Mutex
	events []*TransactionEvent
	err    error
}

var _ Publisher = (*MockPublisher)(nil)

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	return m.PublishTransactionBatch(ctx, []*TransactionEvent{event})
}

// PublishTransactionBatch records events unless FailWith set an error, in
// which case nothing from the batch is kept.
func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// FailWith makes every later publish return err. Pass nil to recover.
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []*TransactionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*TransactionEvent(nil), m.events...)
}

func (m *MockPublisher) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// EventsFor returns the events published on txns.{provider}.
func (m *MockPublisher) EventsFor(provider string) []*TransactionEvent {
	var out []*TransactionEvent
	for _, e := range m.Events() {
		if e.Provider == provider {
			out = append(out, e)
		}
	}
	return out
}
