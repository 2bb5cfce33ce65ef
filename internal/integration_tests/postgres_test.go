package integrationtests

import (
	"context"
	"errors"
	"testing"
	"time"

	"query-classifier/internal/core"
	"query-classifier/internal/database"
	"query-classifier/internal/finetune"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRunRegistry(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	run := database.TrainingRun{
		DataPath:      "questions.csv",
		BaseModel:     "models/bert-base-chinese",
		OutputDir:     "model",
		Epochs:        2,
		BatchSize:     64,
		LearningRate:  1e-3,
		MinEachGroup:  3,
		MaxLength:     30,
		TrainFraction: 0.7,
		Seed:          7,
		Status:        database.RunTraining,
	}
	require.NoError(t, database.CreateRun(ctx, db, &run))
	require.NoError(t, database.SetRunSplits(ctx, db, run.Id, []string{"billing", "shipping"}, 14, 3, 3))

	recorder := finetune.NewRunRecorder(db, run.Id)
	for epoch := 1; epoch <= 2; epoch++ {
		require.NoError(t, recorder.OnEpoch(ctx, core.EpochStats{
			Epoch:         epoch,
			Loss:          1.0 / float64(epoch),
			TrainAccuracy: 0.5,
			ValAccuracy:   0.5,
			GradNorm:      0.9,
			Duration:      time.Second,
		}))
	}

	acc := 0.8
	require.NoError(t, database.CompleteRun(ctx, db, run.Id, &acc))

	saved, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.RunTrained, saved.Status)
	assert.Equal(t, 14, saved.TrainSize)
	require.Len(t, saved.Metrics, 2)
	assert.Equal(t, 1, saved.Metrics[0].Epoch)
	assert.Equal(t, int64(1000), saved.Metrics[1].DurationMs)

	labels, err := saved.LabelList()
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "shipping"}, labels)

	runs, err := database.ListRuns(ctx, db, database.RunTrained, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = database.GetRun(ctx, db, uuid.New())
	assert.True(t, errors.Is(err, database.ErrRunNotFound))
}
