// Single process mode: sqlite, local disk storage, and an in-memory queue
// in place of RabbitMQ. Useful for development and small installs.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cesium-backend/cmd"
	"cesium-backend/internal/api"
	"cesium-backend/internal/database"
	"cesium-backend/internal/jobs"
	"cesium-backend/internal/messaging"
	"cesium-backend/internal/notify"
	"cesium-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root      string `env:"ROOT" envDefault:"./cesium"`
	Port      int    `env:"PORT" envDefault:"3001"`
	JWTSecret string `env:"JWT_SECRET" envDefault:"cesium-local-secret"`
}

const bucket = "cesium-data"

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "cesium.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

// createQueue republishes tasks for records that were still queued when the
// previous process exited.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	queue := messaging.NewInMemoryQueue()
	ctx := context.Background()

	var featuresets []database.Featureset
	if err := db.Where("status = ?", database.JobQueued).Find(&featuresets).Error; err != nil {
		log.Fatalf("Failed to fetch queued featuresets: %v", err)
	}
	for _, f := range featuresets {
		if err := queue.PublishFeaturizeTask(ctx, messaging.FeaturizeTaskPayload{FeaturesetId: f.Id}); err != nil {
			log.Fatalf("Failed to publish featurize task: %v", err)
		}
	}

	var models []database.Model
	if err := db.Where("status = ?", database.JobQueued).Find(&models).Error; err != nil {
		log.Fatalf("Failed to fetch queued models: %v", err)
	}
	for _, m := range models {
		if err := queue.PublishTrainTask(ctx, messaging.TrainTaskPayload{ModelId: m.Id}); err != nil {
			log.Fatalf("Failed to publish train task: %v", err)
		}
	}

	var predictions []database.Prediction
	if err := db.Where("status = ?", database.JobQueued).Find(&predictions).Error; err != nil {
		log.Fatalf("Failed to fetch queued predictions: %v", err)
	}
	for _, p := range predictions {
		if err := queue.PublishPredictTask(ctx, messaging.PredictTaskPayload{PredictionId: p.Id}); err != nil {
			log.Fatalf("Failed to publish predict task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, provider storage.Provider, queue messaging.Publisher, port int, jwtSecret []byte) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, provider, bucket, jwtSecret)
	apiHandler.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	db := createDatabase(cfg.Root)

	provider, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "objects"))
	if err != nil {
		log.Fatalf("Failed to create storage provider: %v", err)
	}
	if err := provider.CreateBucket(context.Background(), bucket); err != nil {
		log.Fatalf("Failed to create bucket: %v", err)
	}

	queue := createQueue(db)
	defer queue.Close()

	worker := jobs.NewWorker(db, queue, provider, bucket, notify.NoopNotifier{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)

	server := createServer(db, provider, queue, cfg.Port, []byte(cfg.JWTSecret))

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
