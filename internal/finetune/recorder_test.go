package finetune_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"query-classifier/internal/core"
	"query-classifier/internal/database"
	"query-classifier/internal/finetune"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRecorder(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	run := database.TrainingRun{DataPath: "questions.csv", Status: database.RunTraining}
	require.NoError(t, database.CreateRun(ctx, db, &run))

	recorder := finetune.NewRunRecorder(db, run.Id)
	for epoch := 1; epoch <= 2; epoch++ {
		require.NoError(t, recorder.OnEpoch(ctx, core.EpochStats{
			Epoch:         epoch,
			Loss:          1.0 / float64(epoch),
			TrainAccuracy: 0.5 * float64(epoch),
			ValAccuracy:   0.4 * float64(epoch),
			GradNorm:      0.25,
			Duration:      1500 * time.Millisecond,
		}))
	}

	saved, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	require.Len(t, saved.Metrics, 2)
	assert.InDelta(t, 1.0, saved.Metrics[1].TrainAccuracy, 1e-9)
	assert.InDelta(t, 0.25, saved.Metrics[0].GradNorm, 1e-9)
	assert.Equal(t, int64(1500), saved.Metrics[0].DurationMs)

	// An epoch can only be recorded once per run.
	assert.Error(t, recorder.OnEpoch(ctx, core.EpochStats{Epoch: 1}))
}
