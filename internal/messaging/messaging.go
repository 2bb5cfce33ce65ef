package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	FinetuneQueue   = "finetune_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// FinetuneTaskPayload describes a queued training or evaluation run. The run
// row is created before the task is published.
type FinetuneTaskPayload struct {
	RunId uuid.UUID `json:"run_id"`

	DataPath        string  `json:"data_path"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	MinEachGroup    int     `json:"min_each_group"`
	MaxLength       int     `json:"max_length"`
	TestMode        bool    `json:"test_mode"`
	ModelOutput     string  `json:"model_output"`
	ModelStart      string  `json:"model_start,omitempty"`
	ModelPrediction string  `json:"model_prediction,omitempty"`
	Pretrained      string  `json:"pretrained,omitempty"`
	TrainFraction   float64 `json:"train_fraction"`
	LearningRate    float64 `json:"learning_rate"`
	Seed            int64   `json:"seed"`
	UploadURI       string  `json:"upload_uri,omitempty"`
}

type Publisher interface {
	PublishFinetuneTask(ctx context.Context, payload FinetuneTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
