package journal

import (
	"context"
	"sync"

	"github.com/compose-network/rootchain/x/rootchain"
)

var _ Journal = (*Memory)(nil)

// Memory is an in-memory Journal.
type Memory struct {
	mu     sync.RWMutex
	events []rootchain.Event
	last   uint64
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{events: make([]rootchain.Event, 0)}
}

func (m *Memory) Append(_ context.Context, events ...rootchain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		if ev.ID <= m.last {
			continue
		}
		m.events = append(m.events, ev)
		m.last = ev.ID
	}
	return nil
}

func (m *Memory) Read(_ context.Context, after uint64, limit int) ([]rootchain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = readLimit(limit)
	results := make([]rootchain.Event, 0)
	for _, ev := range m.events {
		if ev.ID <= after {
			continue
		}
		results = append(results, ev)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (m *Memory) Last(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

func (m *Memory) Close() error {
	return nil
}
