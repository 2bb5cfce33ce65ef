package api

import (
	"log/slog"

	"query-classifier/internal/database"
	"query-classifier/pkg/api"
)

func convertMetric(m database.EpochMetric) api.EpochMetric {
	return api.EpochMetric{
		Epoch:         m.Epoch,
		Loss:          m.Loss,
		TrainAccuracy: m.TrainAccuracy,
		ValAccuracy:   m.ValAccuracy,
		GradNorm:      m.GradNorm,
		DurationMs:    m.DurationMs,
	}
}

func convertRun(r database.TrainingRun) api.TrainingRun {
	run := api.TrainingRun{
		Id:            r.Id,
		DataPath:      r.DataPath,
		BaseModel:     r.BaseModel,
		OutputDir:     r.OutputDir,
		TestMode:      r.TestMode,
		Status:        r.Status,
		Epochs:        r.Epochs,
		BatchSize:     r.BatchSize,
		LearningRate:  r.LearningRate,
		MinEachGroup:  r.MinEachGroup,
		MaxLength:     r.MaxLength,
		TrainFraction: r.TrainFraction,
		TrainSize:     r.TrainSize,
		ValSize:       r.ValSize,
		TestSize:      r.TestSize,
		CreationTime:  r.CreationTime,
	}

	if r.Error.Valid {
		run.Error = r.Error.String
	}
	if r.TestAccuracy.Valid {
		acc := r.TestAccuracy.Float64
		run.TestAccuracy = &acc
	}
	if r.CompletionTime.Valid {
		completed := r.CompletionTime.Time
		run.CompletionTime = &completed
	}

	labels, err := r.LabelList()
	if err != nil {
		slog.Warn("run has malformed labels", "run_id", r.Id, "error", err)
	}
	run.Labels = labels

	for _, m := range r.Metrics {
		run.Metrics = append(run.Metrics, convertMetric(m))
	}

	return run
}

func convertRuns(rs []database.TrainingRun) []api.TrainingRun {
	runs := make([]api.TrainingRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}
