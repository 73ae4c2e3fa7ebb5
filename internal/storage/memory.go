package storage

import (
	"context"
	"sort"
	"sync"

	"paideia/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	rewards     map[string][]float64
	metrics     map[string]map[string][]float64
	buffers     map[string][]byte
	weights     map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.rewards = make(map[string][]float64)
	s.metrics = make(map[string]map[string][]float64)
	s.buffers = make(map[string][]byte)
	s.weights = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}

func (s *MemoryStore) SaveRunRecord(_ context.Context, record model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[record.ID] = record
	return nil
}

func (s *MemoryStore) GetRunRecord(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.runs[id]
	return record, ok, nil
}

func (s *MemoryStore) ListRunRecords(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (s *MemoryStore) SaveRewardHistory(_ context.Context, runID string, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rewards[runID] = append([]float64(nil), values...)
	return nil
}

func (s *MemoryStore) GetRewardHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.rewards[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), values...), true, nil
}

func (s *MemoryStore) SaveMetricSeries(_ context.Context, runID string, series map[string][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string][]float64, len(series))
	for name, values := range series {
		copied[name] = append([]float64(nil), values...)
	}
	s.metrics[runID] = copied
	return nil
}

func (s *MemoryStore) GetMetricSeries(_ context.Context, runID string) (map[string][]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.metrics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make(map[string][]float64, len(series))
	for name, values := range series {
		copied[name] = append([]float64(nil), values...)
	}
	return copied, true, nil
}

func (s *MemoryStore) SaveBufferSnapshot(_ context.Context, runID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffers[runID] = append([]byte(nil), payload...)
	return nil
}

func (s *MemoryStore) GetBufferSnapshot(_ context.Context, runID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.buffers[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

func (s *MemoryStore) SavePolicyWeights(_ context.Context, runID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.weights[runID] = append([]byte(nil), payload...)
	return nil
}

func (s *MemoryStore) GetPolicyWeights(_ context.Context, runID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.weights[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}
