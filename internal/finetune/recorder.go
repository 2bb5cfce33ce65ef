package finetune

import (
	"context"

	"query-classifier/internal/core"
	"query-classifier/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunRecorder stores the epochs reported by a trainer under one run.
type RunRecorder struct {
	db    *gorm.DB
	runId uuid.UUID
}

var _ core.EpochObserver = (*RunRecorder)(nil)

func NewRunRecorder(db *gorm.DB, runId uuid.UUID) *RunRecorder {
	return &RunRecorder{db: db, runId: runId}
}

func (r *RunRecorder) OnEpoch(ctx context.Context, stats core.EpochStats) error {
	return database.RecordEpoch(ctx, r.db, database.EpochMetric{
		RunId:         r.runId,
		Epoch:         stats.Epoch,
		Loss:          stats.Loss,
		TrainAccuracy: stats.TrainAccuracy,
		ValAccuracy:   stats.ValAccuracy,
		GradNorm:      stats.GradNorm,
		DurationMs:    stats.Duration.Milliseconds(),
	})
}
