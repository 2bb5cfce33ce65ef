package finetune

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"query-classifier/internal/database"
	"query-classifier/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (j Job) payload(runId uuid.UUID) messaging.FinetuneTaskPayload {
	return messaging.FinetuneTaskPayload{
		RunId:           runId,
		DataPath:        j.DataPath,
		Epochs:          j.Epochs,
		BatchSize:       j.BatchSize,
		MinEachGroup:    j.MinEachGroup,
		MaxLength:       j.MaxLength,
		TestMode:        j.TestMode,
		ModelOutput:     j.ModelOutput,
		ModelStart:      j.ModelStart,
		ModelPrediction: j.ModelPrediction,
		Pretrained:      j.Pretrained,
		TrainFraction:   j.TrainFraction,
		LearningRate:    j.LearningRate,
		Seed:            j.Seed,
		UploadURI:       j.UploadURI,
	}
}

func jobFromPayload(p messaging.FinetuneTaskPayload) Job {
	return Job{
		DataPath:        p.DataPath,
		Epochs:          p.Epochs,
		BatchSize:       p.BatchSize,
		MinEachGroup:    p.MinEachGroup,
		MaxLength:       p.MaxLength,
		TestMode:        p.TestMode,
		ModelOutput:     p.ModelOutput,
		ModelStart:      p.ModelStart,
		ModelPrediction: p.ModelPrediction,
		Pretrained:      p.Pretrained,
		TrainFraction:   p.TrainFraction,
		LearningRate:    p.LearningRate,
		Seed:            p.Seed,
		UploadURI:       p.UploadURI,
	}
}

// Submit records job as QUEUED and publishes it for a worker to run.
func Submit(ctx context.Context, db *gorm.DB, publisher messaging.Publisher, job Job) (uuid.UUID, error) {
	job, err := prepare(job)
	if err != nil {
		return uuid.Nil, err
	}

	runId, err := createRun(ctx, db, job, database.RunQueued)
	if err != nil {
		return uuid.Nil, err
	}

	if err := publisher.PublishFinetuneTask(ctx, job.payload(runId)); err != nil {
		if db != nil {
			database.FailRun(ctx, db, runId, err) //nolint:errcheck
		}
		return uuid.Nil, fmt.Errorf("error queueing finetune job: %w", err)
	}

	slog.Info("finetune job queued", "run_id", runId, "data_path", job.DataPath)
	return runId, nil
}

// Start runs queued tasks one at a time until ctx is done or the receiver's
// channel is closed.
func (proc *Processor) Start(ctx context.Context, receiver messaging.Receiver) {
	slog.Info("starting finetune task processor")

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping finetune task processor")
			return
		case task, ok := <-receiver.Tasks():
			if !ok {
				slog.Info("task channel closed, stopping finetune task processor")
				return
			}
			proc.ProcessTask(ctx, task)
		}
	}
}

func (proc *Processor) ProcessTask(ctx context.Context, task messaging.Task) {
	var err error
	switch task.Type() {
	case messaging.FinetuneQueue:
		var payload messaging.FinetuneTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling finetune task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.runQueued(ctx, payload)

	default:
		slog.Error("received task of unknown type", "type", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "type", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking message from queue", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acking message from queue", "error", err)
	}
}

func (proc *Processor) runQueued(ctx context.Context, payload messaging.FinetuneTaskPayload) error {
	job, err := prepare(jobFromPayload(payload))
	if err != nil {
		proc.failRun(ctx, payload.RunId, err)
		return err
	}

	if proc.db != nil {
		if err := database.UpdateRunStatus(ctx, proc.db, payload.RunId, database.RunTraining); err != nil {
			return fmt.Errorf("error starting run %s: %w", payload.RunId, err)
		}
	}

	_, err = proc.execute(ctx, payload.RunId, job)
	return err
}
