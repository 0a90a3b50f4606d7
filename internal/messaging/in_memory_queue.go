package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is both a Publisher and a Receiver. It backs the
// single-process mode and the tests.
type InMemoryQueue struct {
	tasks chan Task
}

var (
	_ Publisher = &InMemoryQueue{}
	_ Receiver  = &InMemoryQueue{}
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) PublishFeaturizeTask(ctx context.Context, payload FeaturizeTaskPayload) error {
	return q.publishTaskInternal(FeaturizeQueue, payload)
}

func (q *InMemoryQueue) PublishTrainTask(ctx context.Context, payload TrainTaskPayload) error {
	return q.publishTaskInternal(TrainingQueue, payload)
}

func (q *InMemoryQueue) PublishPredictTask(ctx context.Context, payload PredictTaskPayload) error {
	return q.publishTaskInternal(PredictionQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
