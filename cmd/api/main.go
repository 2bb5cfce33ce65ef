package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"query-classifier/cmd"
	"query-classifier/internal/api"
	"query-classifier/internal/config"
	"query-classifier/internal/core"
	"query-classifier/internal/database"
	"query-classifier/internal/messaging"
	"query-classifier/internal/storage"

	"gorm.io/gorm"

	"github.com/alexflint/go-arg"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type args struct {
	Env string `arg:"--env" help:"path to load env from"`
}

// resolveModelDir downloads MODEL_DIR first when it is an s3:// uri.
func resolveModelDir(cfg *config.Config) string {
	if cfg.ModelDir == "" {
		log.Fatalf("MODEL_DIR must be set")
	}
	if !storage.IsS3URI(cfg.ModelDir) {
		return cfg.ModelDir
	}

	loc, err := storage.ParseURI(cfg.ModelDir)
	if err != nil {
		log.Fatalf("invalid MODEL_DIR: %v", err)
	}

	local := filepath.Join(os.TempDir(), "query-classifier", "serving")
	store := cmd.NewObjectStore(cfg)
	if err := store.DownloadDir(context.Background(), loc.Bucket, loc.Prefix, local, true); err != nil {
		log.Fatalf("error downloading model from %s: %v", cfg.ModelDir, err)
	}
	return local
}

// startTraining returns the publisher for queued runs. Without RABBITMQ_URL the
// runs are processed in this process by a background consumer.
func startTraining(ctx context.Context, cfg *config.Config, db *gorm.DB) messaging.Publisher {
	if cfg.RabbitMQURL != "" {
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		return publisher
	}

	if n, err := database.FailStaleRuns(ctx, db, "interrupted by server restart"); err != nil {
		log.Fatalf("Failed to clean up stale runs: %v", err)
	} else if n > 0 {
		slog.Warn("marked interrupted runs as failed", "runs", n)
	}

	queue := messaging.NewInMemoryQueue()
	processor := cmd.NewProcessor(cfg, db, false)
	go processor.Start(ctx, queue)

	return queue
}

func main() {
	log.Println("Starting API Server...")

	var a args
	arg.MustParse(&a)

	cfg := cmd.LoadConfig(a.Env)

	destroy := cmd.InitOnnx(cfg)
	defer destroy()

	db := cmd.OpenDatabase(cfg)

	modelDir := resolveModelDir(cfg)
	classifier, err := core.LoadClassifier(modelDir, core.NewLoaders(cfg.EncoderOutput), core.LoadOptions{
		MaxSeqLen:     cfg.MaxSeqLen,
		EncoderOutput: cfg.EncoderOutput,
	})
	if err != nil {
		log.Fatalf("could not load classifier from %s: %v", modelDir, err)
	}
	defer classifier.Release()

	slog.Info("loaded classifier", "dir", modelDir, "labels", len(classifier.Labels().Labels()))

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	service := api.NewPredictionService(db, classifier)

	trainCtx, stopTraining := context.WithCancel(context.Background())
	defer stopTraining()

	if cfg.EnableTraining {
		publisher := startTraining(trainCtx, cfg, db)
		defer publisher.Close()
		service.EnableTraining(publisher)
	}

	r.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
