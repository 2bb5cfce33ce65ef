package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string `env:"DATABASE_URL" envDefault:"query-classifier.db"`
	OnnxRuntimeDylib   string `env:"ONNX_RUNTIME_DYLIB"`
	PretrainedModelDir string `env:"PRETRAINED_MODEL_DIR" envDefault:"models/bert-base-chinese"`
	EncoderOutput      string `env:"ENCODER_OUTPUT" envDefault:"last_hidden_state"`
	MaxSeqLen          int    `env:"MAX_SEQ_LEN" envDefault:"512"`
	TokenizeWorkers    int    `env:"TOKENIZE_WORKERS" envDefault:"4"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	// Used for s3:// uris when no S3 endpoint or credentials are configured.
	LocalStoreDir string `env:"LOCAL_STORE_DIR" envDefault:"storage"`

	// Finetune jobs go through rabbitmq when set, otherwise through an in-process
	// queue in the api command.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	ScratchDir  string `env:"SCRATCH_DIR"`

	// Only read by the api command.
	ModelDir       string `env:"MODEL_DIR"`
	Port           int    `env:"PORT" envDefault:"8001"`
	EnableTraining bool   `env:"ENABLE_TRAINING" envDefault:"true"`
}

// LoadConfig reads the optional dotenv file at envFile (or ./.env when empty)
// and then parses the process environment.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file '%s': %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading, continuing with environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config from environment: %w", err)
	}

	if cfg.S3EndpointURL != "" && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
		slog.Warn("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing")
	}
	if cfg.MaxSeqLen < 2 {
		return nil, fmt.Errorf("MAX_SEQ_LEN must be at least 2, got %d", cfg.MaxSeqLen)
	}
	if cfg.TokenizeWorkers < 1 {
		cfg.TokenizeWorkers = 1
	}

	return &cfg, nil
}

// UseS3 reports whether model uris should resolve against a real S3 endpoint.
func (c *Config) UseS3() bool {
	return c.S3EndpointURL != "" || c.S3AccessKeyID != ""
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs a text handler on stderr as the default slog logger.
func (c *Config) SetupLogging() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}
