package cmd

import (
	"log"
	"log/slog"

	"query-classifier/internal/config"
	"query-classifier/internal/core"
	"query-classifier/internal/database"
	"query-classifier/internal/finetune"
	"query-classifier/internal/storage"

	"gorm.io/gorm"
)

// LoadConfig loads envFile (if any), parses the environment and installs the
// default logger. Errors are fatal.
func LoadConfig(envFile string) *config.Config {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.SetupLogging()
	return cfg
}

func OpenDatabase(cfg *config.Config) *gorm.DB {
	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return db
}

func NewObjectStore(cfg *config.Config) storage.ObjectStore {
	if cfg.UseS3() {
		store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		slog.Info("using s3 object store", "endpoint", cfg.S3EndpointURL, "region", cfg.S3Region)
		return store
	}

	store, err := storage.NewLocalObjectStore(cfg.LocalStoreDir)
	if err != nil {
		log.Fatalf("Failed to create local object store: %v", err)
	}
	slog.Info("using local object store", "dir", cfg.LocalStoreDir)
	return store
}

// InitOnnx starts the onnx runtime and returns the function that tears it down.
func InitOnnx(cfg *config.Config) func() {
	destroy, err := core.InitOnnxRuntime(cfg.OnnxRuntimeDylib)
	if err != nil {
		log.Fatalf("could not init ONNX Runtime: %v", err)
	}
	return destroy
}

// NewProcessor builds a finetune processor backed by the onnx encoder.
func NewProcessor(cfg *config.Config, db *gorm.DB, showProgress bool) *finetune.Processor {
	return finetune.NewProcessor(finetune.Options{
		DB:            db,
		Store:         NewObjectStore(cfg),
		Loaders:       core.NewLoaders(cfg.EncoderOutput),
		MaxSeqLen:     cfg.MaxSeqLen,
		EncoderOutput: cfg.EncoderOutput,
		Workers:       cfg.TokenizeWorkers,
		ScratchDir:    cfg.ScratchDir,
		ShowProgress:  showProgress,
		Pretrained:    cfg.PretrainedModelDir,
	})
}
