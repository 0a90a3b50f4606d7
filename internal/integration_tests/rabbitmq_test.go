//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cesium-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(amqpURL)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(amqpURL)
	require.NoError(t, err)
	defer receiver.Close()

	t.Run("Publish and Receive FeaturizeTask", func(t *testing.T) {
		payload := messaging.FeaturizeTaskPayload{FeaturesetId: uuid.New()}
		err := publisher.PublishFeaturizeTask(ctx, payload)
		require.NoError(t, err)

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.FeaturizeQueue, task.Type())

			var receivedPayload messaging.FeaturizeTaskPayload
			err := json.Unmarshal(task.Payload(), &receivedPayload)
			require.NoError(t, err)
			assert.Equal(t, payload, receivedPayload)

			require.NoError(t, task.Ack())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Publish and Receive TrainTask", func(t *testing.T) {
		payload := messaging.TrainTaskPayload{ModelId: uuid.New()}
		err := publisher.PublishTrainTask(ctx, payload)
		require.NoError(t, err)

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.TrainingQueue, task.Type())

			var receivedPayload messaging.TrainTaskPayload
			err := json.Unmarshal(task.Payload(), &receivedPayload)
			require.NoError(t, err)
			assert.Equal(t, payload, receivedPayload)

			require.NoError(t, task.Ack())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Publish and Receive PredictTask", func(t *testing.T) {
		payload := messaging.PredictTaskPayload{PredictionId: uuid.New()}
		err := publisher.PublishPredictTask(ctx, payload)
		require.NoError(t, err)

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.PredictionQueue, task.Type())

			var receivedPayload messaging.PredictTaskPayload
			err := json.Unmarshal(task.Payload(), &receivedPayload)
			require.NoError(t, err)
			assert.Equal(t, payload, receivedPayload)

			require.NoError(t, task.Ack())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})
}
