package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"query-classifier/cmd"
	"query-classifier/internal/messaging"

	"github.com/alexflint/go-arg"
)

type args struct {
	Env string `arg:"--env" help:"path to load env from"`
}

func main() {
	log.Println("Starting Worker Process...")

	var a args
	arg.MustParse(&a)

	cfg := cmd.LoadConfig(a.Env)
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set for the worker")
	}

	destroy := cmd.InitOnnx(cfg)
	defer destroy()

	processor := cmd.NewProcessor(cfg, cmd.OpenDatabase(cfg), false)

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Worker: Failed to start message consumer: %v", err)
	}
	defer receiver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	// A run in progress when the signal arrives sees a cancelled context and is
	// marked failed.
	processor.Start(ctx, receiver)

	log.Println("Worker process stopped.")
}
