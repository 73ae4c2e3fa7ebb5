package storage

import (
	"context"

	"paideia/internal/model"
)

// Store defines persistence operations for training runs and their
// artifacts. Byte payloads (buffer snapshots, policy weights) are stored
// opaquely; the codecs that produce them own their format.
type Store interface {
	Init(ctx context.Context) error
	SaveRunRecord(ctx context.Context, record model.RunRecord) error
	GetRunRecord(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRunRecords(ctx context.Context) ([]model.RunRecord, error)
	SaveRewardHistory(ctx context.Context, runID string, values []float64) error
	GetRewardHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveMetricSeries(ctx context.Context, runID string, series map[string][]float64) error
	GetMetricSeries(ctx context.Context, runID string) (map[string][]float64, bool, error)
	SaveBufferSnapshot(ctx context.Context, runID string, payload []byte) error
	GetBufferSnapshot(ctx context.Context, runID string) ([]byte, bool, error)
	SavePolicyWeights(ctx context.Context, runID string, payload []byte) error
	GetPolicyWeights(ctx context.Context, runID string) ([]byte, bool, error)
}

// Resetter is optionally implemented by stores that can drop all state.
type Resetter interface {
	Reset(ctx context.Context) error
}
