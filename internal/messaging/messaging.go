package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	FeaturizeQueue  = "featurize_queue"
	TrainingQueue   = "training_queue"
	PredictionQueue = "prediction_queue"
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

// Payloads carry only the record id; the database record is the source of
// truth for everything else about the job.

type FeaturizeTaskPayload struct {
	FeaturesetId uuid.UUID
}

type TrainTaskPayload struct {
	ModelId uuid.UUID
}

type PredictTaskPayload struct {
	PredictionId uuid.UUID
}

type Publisher interface {
	PublishFeaturizeTask(ctx context.Context, payload FeaturizeTaskPayload) error

	PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error

	PublishPredictTask(ctx context.Context, payload PredictTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
