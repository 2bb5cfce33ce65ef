package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("training run not found")

func CreateRun(ctx context.Context, db *gorm.DB, run *TrainingRun) error {
	if run.Id == uuid.Nil {
		run.Id = uuid.New()
	}
	if run.Status == "" {
		run.Status = RunQueued
	}
	if run.CreationTime.IsZero() {
		run.CreationTime = time.Now().UTC()
	}

	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		slog.Error("error creating training run", "error", err)
		return fmt.Errorf("error creating training run: %w", err)
	}
	return nil
}

func UpdateRunStatus(ctx context.Context, db *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == RunTrained || status == RunFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := db.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

// SetRunSplits records the label set and split sizes once the data is prepared.
func SetRunSplits(ctx context.Context, db *gorm.DB, runId uuid.UUID, labels []string, train, val, test int) error {
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("could not marshal labels: %w", err)
	}

	updates := map[string]any{
		"labels":     encoded,
		"train_size": train,
		"val_size":   val,
		"test_size":  test,
	}
	if err := db.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error updating run splits: %w", err)
	}
	return nil
}

func RecordEpoch(ctx context.Context, db *gorm.DB, metric EpochMetric) error {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(&metric).Error; err != nil {
		return fmt.Errorf("error recording epoch %d for run %s: %w", metric.Epoch, metric.RunId, err)
	}
	return nil
}

// CompleteRun marks the run as trained and stores the test accuracy when one
// was measured.
func CompleteRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, testAccuracy *float64) error {
	updates := map[string]any{
		"status":          RunTrained,
		"completion_time": time.Now().UTC(),
	}
	if testAccuracy != nil {
		updates["test_accuracy"] = sql.NullFloat64{Float64: *testAccuracy, Valid: true}
	}

	if err := db.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error completing run %s: %w", runId, err)
	}
	return nil
}

func FailRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, cause error) error {
	updates := map[string]any{
		"status":          RunFailed,
		"completion_time": time.Now().UTC(),
		"error":           sql.NullString{String: cause.Error(), Valid: true},
	}
	if err := db.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error marking run as failed", "run_id", runId, "error", err)
		return err
	}
	return nil
}

// FailStaleRuns marks runs left QUEUED or TRAINING by a process that exited as
// failed, returning how many were updated.
func FailStaleRuns(ctx context.Context, db *gorm.DB, reason string) (int64, error) {
	result := db.WithContext(ctx).Model(&TrainingRun{}).
		Where("status IN ?", []string{RunQueued, RunTraining}).
		Updates(map[string]any{
			"status":          RunFailed,
			"completion_time": time.Now().UTC(),
			"error":           sql.NullString{String: reason, Valid: true},
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error failing stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (TrainingRun, error) {
	var run TrainingRun
	err := db.WithContext(ctx).
		Preload("Metrics", func(db *gorm.DB) *gorm.DB { return db.Order("epoch ASC") }).
		First(&run, "id = ?", runId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TrainingRun{}, ErrRunNotFound
	}
	if err != nil {
		return TrainingRun{}, fmt.Errorf("error loading run %s: %w", runId, err)
	}
	return run, nil
}

// ListRuns returns runs newest first without their epoch metrics. An empty
// status matches every run and a limit of 0 means no limit.
func ListRuns(ctx context.Context, db *gorm.DB, status string, limit int) ([]TrainingRun, error) {
	query := db.WithContext(ctx).Order("creation_time DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []TrainingRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

func (r *TrainingRun) LabelList() ([]string, error) {
	if len(r.Labels) == 0 {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal(r.Labels, &labels); err != nil {
		return nil, fmt.Errorf("invalid labels JSON: %w", err)
	}
	return labels, nil
}
