package ledger

import (
	"context"
	"sync"
)

// Memory is a ledger over records held in memory.
type Memory struct {
	mu      sync.RWMutex
	filter  Filter
	records []SampleRecord
}

// NewMemory returns a ledger seeded with records.
func NewMemory(filter Filter, records ...SampleRecord) *Memory {
	return &Memory{filter: filter, records: append([]SampleRecord(nil), records...)}
}

// Add appends records.
func (m *Memory) Add(records ...SampleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

func (m *Memory) Speakers(ctx context.Context) ([]string, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(all), nil
}

func (m *Memory) Samples(ctx context.Context, speaker string) ([]SampleRecord, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	return all[NormalizeName(speaker)], nil
}

func (m *Memory) All(ctx context.Context) (map[string][]SampleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return group(m.records, m.filter), nil
}
