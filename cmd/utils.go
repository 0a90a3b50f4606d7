package cmd

import (
	"context"
	"flag"
	"log"

	"cesium-backend/internal/notify"
	"cesium-backend/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

type StorageConfig struct {
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR" envDefault:""`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// CreateStorageProvider picks the object store backend: a local directory
// when LOCAL_STORAGE_DIR is set, otherwise S3.
func CreateStorageProvider(ctx context.Context, cfg StorageConfig, bucket string) storage.Provider {
	var provider storage.Provider
	var err error

	if cfg.LocalStorageDir != "" {
		provider, err = storage.NewLocalProvider(cfg.LocalStorageDir)
		if err != nil {
			log.Fatalf("Failed to create local storage provider: %v", err)
		}
	} else {
		provider, err = storage.NewS3Provider(&storage.S3ProviderConfig{
			S3EndpointURL:     cfg.S3EndpointURL,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 storage provider: %v", err)
		}
	}

	if err := provider.CreateBucket(ctx, bucket); err != nil {
		log.Fatalf("Failed to create bucket %s: %v", bucket, err)
	}

	return provider
}

func CreateNotifier(webhookURL string) notify.Notifier {
	if webhookURL == "" {
		log.Printf("no notification webhook configured, notifications are stored only")
		return notify.NoopNotifier{}
	}
	return notify.NewWebhookNotifier(webhookURL)
}
