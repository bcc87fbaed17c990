package projection

import (
	"context"
	"sync"
)

// Store applies projection updates
type Store interface {
	Apply(ctx context.Context, u Update) error
	Cursor(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// Reader serves the projections to the query API
type Reader interface {
	Request(ctx context.Context, id string) (*RequestRow, error)
	UserRequests(ctx context.Context, user string, limit int) ([]RequestRow, error)
	Settlements(ctx context.Context, holder string, limit int) ([]SettlementRow, error)
}

// MemoryStore keeps the projections in memory, newest last
type MemoryStore struct {
	mu          sync.RWMutex
	requests    []*RequestRow
	byID        map[string]*RequestRow
	settlements []SettlementRow
	cursor      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*RequestRow)}
}

func (m *MemoryStore) Apply(_ context.Context, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.NewRequest != nil {
		row := *u.NewRequest
		if _, ok := m.byID[row.RequestID]; !ok {
			m.requests = append(m.requests, &row)
			m.byID[row.RequestID] = &row
		}
	}
	if u.Status != nil {
		if row, ok := m.byID[u.Status.RequestID]; ok {
			row.Status = u.Status.Status
			row.Shares = u.Status.Shares
			row.Assets = u.Status.Assets
			row.Sequence = u.Sequence
			row.UpdatedAt = u.At
		}
	}
	if u.Settlement != nil {
		m.settlements = append(m.settlements, *u.Settlement)
	}
	if u.Sequence > m.cursor {
		m.cursor = u.Sequence
	}
	return nil
}

func (m *MemoryStore) Cursor(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor, nil
}

func (m *MemoryStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.byID = make(map[string]*RequestRow)
	m.settlements = nil
	m.cursor = 0
	return nil
}

// Request returns a request by id, or nil when unknown
func (m *MemoryStore) Request(_ context.Context, id string) (*RequestRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	out := *row
	return &out, nil
}

// UserRequests returns a user's requests, newest first
func (m *MemoryStore) UserRequests(_ context.Context, user string, limit int) ([]RequestRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]RequestRow, 0)
	for i := len(m.requests) - 1; i >= 0 && len(result) < limit; i-- {
		if m.requests[i].User == user {
			result = append(result, *m.requests[i])
		}
	}
	return result, nil
}

// Settlements returns a holder's settlements, newest first
func (m *MemoryStore) Settlements(_ context.Context, holder string, limit int) ([]SettlementRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]SettlementRow, 0)
	for i := len(m.settlements) - 1; i >= 0 && len(result) < limit; i-- {
		if m.settlements[i].Holder == holder {
			result = append(result, m.settlements[i])
		}
	}
	return result, nil
}
