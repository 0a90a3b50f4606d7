package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"cesium-backend/cmd"
	"cesium-backend/internal/database"
	"cesium-backend/internal/jobs"
	"cesium-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL      string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL      string `env:"RABBITMQ_URL,notEmpty,required"`
	BucketName       string `env:"BUCKET_NAME" envDefault:"cesium-data"`
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL" envDefault:""`

	Storage cmd.StorageConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	provider := cmd.CreateStorageProvider(context.Background(), cfg.Storage, cfg.BucketName)

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	notifier := cmd.CreateNotifier(cfg.NotifyWebhookURL)

	worker := jobs.NewWorker(db, receiver, provider, cfg.BucketName, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker.Run(ctx)

	log.Println("Worker process stopped.")
}
