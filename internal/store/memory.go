package store

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/ids"
	"github.com/drblury/xrayflow/internal/xray"
)

// Memory keeps records in process memory in insertion order.
type Memory struct {
	mu      sync.RWMutex
	records []xray.Record
	index   map[string]int
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		index: make(map[string]int),
		now:   time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, draft xray.Draft) (xray.Record, error) {
	if err := ctx.Err(); err != nil {
		return xray.Record{}, errors.NewPersistenceError("create", draft.DeviceID, err)
	}

	now := m.now().UTC()
	rec := xray.Record{
		ID:          ids.CreateULIDAt(now),
		DeviceID:    draft.DeviceID,
		Time:        draft.Time,
		Samples:     copySamples(draft.Samples),
		SampleCount: draft.SampleCount,
		PayloadSize: draft.PayloadSize,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.index[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	m.mu.Unlock()

	return rec.Clone(), nil
}

func (m *Memory) Find(ctx context.Context, filter Filter) ([]xray.Record, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.NewPersistenceError("find", filter.DeviceID, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]xray.Record, 0)
	total := 0
	for _, rec := range m.records {
		if !filter.matches(rec) {
			continue
		}
		total++
		if total <= filter.Skip {
			continue
		}
		if filter.Limit > 0 && len(items) >= filter.Limit {
			continue
		}
		items = append(items, rec.Clone())
	}
	return items, total, nil
}

func (m *Memory) FindOne(ctx context.Context, id string) (xray.Record, error) {
	if err := ctx.Err(); err != nil {
		return xray.Record{}, errors.NewPersistenceError("find one", "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[id]
	if !ok {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}
	return m.records[i].Clone(), nil
}

func (m *Memory) Update(ctx context.Context, id string, patch Patch) (xray.Record, error) {
	if err := ctx.Err(); err != nil {
		return xray.Record{}, errors.NewPersistenceError("update", "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}
	rec := m.records[i]
	patch.apply(&rec)
	rec.UpdatedAt = m.now().UTC()
	m.records[i] = rec
	return rec.Clone(), nil
}

func (m *Memory) Remove(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.NewPersistenceError("remove", "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return false, nil
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.index, id)
	for j := i; j < len(m.records); j++ {
		m.index[m.records[j].ID] = j
	}
	return true, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
