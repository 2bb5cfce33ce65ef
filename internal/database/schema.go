package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued   string = "QUEUED"
	RunTraining string = "TRAINING"
	RunTrained  string = "TRAINED"
	RunFailed   string = "FAILED"
)

type TrainingRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DataPath  string `gorm:"not null"`
	BaseModel string
	OutputDir string
	TestMode  bool `gorm:"default:false"`

	Epochs        int
	BatchSize     int
	LearningRate  float64
	MinEachGroup  int
	MaxLength     int
	TrainFraction float64
	Seed          int64

	TrainSize int `gorm:"default:0"`
	ValSize   int `gorm:"default:0"`
	TestSize  int `gorm:"default:0"`

	Labels datatypes.JSON `gorm:"type:jsonb"` // JSON-encoded []string, ordered by index

	Status         string `gorm:"size:20;not null"`
	Error          sql.NullString
	TestAccuracy   sql.NullFloat64
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Metrics []EpochMetric `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type EpochMetric struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Epoch int       `gorm:"primaryKey"`

	Loss          float64
	TrainAccuracy float64
	ValAccuracy   float64
	GradNorm      float64 `gorm:"default:0"`
	DurationMs    int64   `gorm:"default:0"`
	Timestamp     time.Time
}
