package api

import (
	"time"

	"github.com/google/uuid"
)

type PredictRequest struct {
	Texts []string `json:"texts"`
}

type PredictParams struct {
	Text string `schema:"text,required"`
}

type Prediction struct {
	Text  string  `json:"text"`
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type PredictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type ModelInfo struct {
	Pretrained string   `json:"pretrained"`
	HiddenSize int      `json:"hidden_size"`
	MaxSeqLen  int      `json:"max_seq_len"`
	Labels     []string `json:"labels"`
}

type ListRunsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type EpochMetric struct {
	Epoch         int     `json:"epoch"`
	Loss          float64 `json:"loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValAccuracy   float64 `json:"val_accuracy"`
	GradNorm      float64 `json:"grad_norm"`
	DurationMs    int64   `json:"duration_ms"`
}

type TrainingRun struct {
	Id        uuid.UUID `json:"id"`
	DataPath  string    `json:"data_path"`
	BaseModel string    `json:"base_model"`
	OutputDir string    `json:"output_dir"`
	TestMode  bool      `json:"test_mode"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`

	Epochs        int     `json:"epochs"`
	BatchSize     int     `json:"batch_size"`
	LearningRate  float64 `json:"learning_rate"`
	MinEachGroup  int     `json:"min_each_group"`
	MaxLength     int     `json:"max_length"`
	TrainFraction float64 `json:"train_fraction"`

	TrainSize int      `json:"train_size"`
	ValSize   int      `json:"val_size"`
	TestSize  int      `json:"test_size"`
	Labels    []string `json:"labels,omitempty"`

	TestAccuracy   *float64   `json:"test_accuracy,omitempty"`
	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`

	Metrics []EpochMetric `json:"metrics,omitempty"`
}

// SubmitRunRequest queues a finetune run. Zero values take the command line
// defaults.
type SubmitRunRequest struct {
	DataPath        string  `json:"data_path"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	MinEachGroup    int     `json:"min_each_group"`
	MaxLength       int     `json:"max_length"`
	TestMode        bool    `json:"test_mode"`
	ModelOutput     string  `json:"model_output"`
	ModelStart      string  `json:"model_start"`
	ModelPrediction string  `json:"model_prediction"`
	TrainFraction   float64 `json:"train_fraction"`
	LearningRate    float64 `json:"learning_rate"`
	Seed            int64   `json:"seed"`
	UploadURI       string  `json:"upload_uri"`
}

type SubmitRunResponse struct {
	RunId uuid.UUID `json:"run_id"`
}
