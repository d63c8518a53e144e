// Package store persists finished plan documents. The memory backend is the
// default; Postgres is selected when a DSN is configured.
package store

import (
	"context"
	"sync"
	"time"
)

// PlanRecord is one saved plan document for a user.
type PlanRecord struct {
	UserKey   string    `json:"userKey"`
	Doc       []byte    `json:"doc"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlanStore keeps the most recent plan documents per user.
type PlanStore interface {
	SavePlan(ctx context.Context, userKey string, doc []byte) error
	GetPlan(ctx context.Context, userKey string) (PlanRecord, bool, error)
	ListPlans(ctx context.Context, userKey string, limit int) ([]PlanRecord, error)
	Close() error
}

// Memory is the in-process PlanStore. Each user keeps a bounded history,
// newest first.
type Memory struct {
	mu     sync.RWMutex
	byUser map[string][]PlanRecord
	maxPer int
	now    func() time.Time
}

const defaultMaxPlansPerUser = 20

func NewMemory() *Memory {
	return &Memory{
		byUser: make(map[string][]PlanRecord),
		maxPer: defaultMaxPlansPerUser,
		now:    time.Now,
	}
}

func (m *Memory) SavePlan(_ context.Context, userKey string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(doc))
	copy(cp, doc)
	rec := PlanRecord{UserKey: userKey, Doc: cp, CreatedAt: m.now()}
	history := append([]PlanRecord{rec}, m.byUser[userKey]...)
	if len(history) > m.maxPer {
		history = history[:m.maxPer]
	}
	m.byUser[userKey] = history
	return nil
}

func (m *Memory) GetPlan(_ context.Context, userKey string) (PlanRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.byUser[userKey]
	if len(history) == 0 {
		return PlanRecord{}, false, nil
	}
	return history[0], true, nil
}

func (m *Memory) ListPlans(_ context.Context, userKey string, limit int) ([]PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.byUser[userKey]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]PlanRecord, limit)
	copy(out, history[:limit])
	return out, nil
}

func (m *Memory) Close() error { return nil }
