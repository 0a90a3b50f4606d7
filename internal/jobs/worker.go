package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/internal/messaging"
	"cesium-backend/internal/notify"
	"cesium-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Worker consumes featurization, training, and prediction tasks. Tasks
// carry only a record id; everything else is read from the record, so a
// redelivered task always sees current state.
type Worker struct {
	db       *gorm.DB
	receiver messaging.Receiver
	storage  storage.Provider
	bucket   string
	notifier notify.Notifier
}

func NewWorker(db *gorm.DB, receiver messaging.Receiver, store storage.Provider, bucket string, notifier notify.Notifier) *Worker {
	return &Worker{
		db:       db,
		receiver: receiver,
		storage:  store,
		bucket:   bucket,
		notifier: notifier,
	}
}

// Run processes tasks until the context is cancelled or the receiver's task
// channel is closed.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started")
	for {
		select {
		case task, ok := <-w.receiver.Tasks():
			if !ok {
				slog.Info("task channel closed, worker stopping")
				return
			}
			w.processTask(ctx, task)
		case <-ctx.Done():
			slog.Info("worker stopping", "reason", ctx.Err())
			return
		}
	}
}

func (w *Worker) processTask(ctx context.Context, task messaging.Task) {
	var err error
	switch task.Type() {
	case messaging.FeaturizeQueue:
		var payload messaging.FeaturizeTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling featurize task, discarding", "error", err)
			w.reject(task)
			return
		}
		err = w.handleFeaturizeTask(ctx, payload)

	case messaging.TrainingQueue:
		var payload messaging.TrainTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling train task, discarding", "error", err)
			w.reject(task)
			return
		}
		err = w.handleTrainTask(ctx, payload)

	case messaging.PredictionQueue:
		var payload messaging.PredictTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling predict task, discarding", "error", err)
			w.reject(task)
			return
		}
		err = w.handlePredictTask(ctx, payload)

	default:
		slog.Error("received task from unknown queue, discarding", "queue", task.Type())
		w.reject(task)
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking task", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acking task", "error", err)
	}
}

func (w *Worker) reject(task messaging.Task) {
	if err := task.Reject(); err != nil {
		slog.Error("error rejecting task", "error", err)
	}
}

func (w *Worker) notifyUser(ctx context.Context, username, note, kind string) {
	database.SaveNotification(ctx, w.db, username, note, kind)
	w.notifier.Push(ctx, notify.Notification{Username: username, Note: note, Kind: kind})
}

func (w *Worker) projectOwner(ctx context.Context, projectId uuid.UUID) string {
	var project database.Project
	if err := w.db.WithContext(ctx).First(&project, "id = ?", projectId).Error; err != nil {
		slog.Error("error loading project for notification", "project_id", projectId, "error", err)
		return ""
	}
	return project.Owner
}

// loadDatasetSeries reads every stored file of a dataset back into memory.
func (w *Worker) loadDatasetSeries(ctx context.Context, datasetId uuid.UUID) ([]core.TimeSeries, error) {
	var dataset database.Dataset
	if err := w.db.WithContext(ctx).Preload("Files").First(&dataset, "id = ?", datasetId).Error; err != nil {
		return nil, fmt.Errorf("error loading dataset %s: %w", datasetId, err)
	}
	if len(dataset.Files) == 0 {
		return nil, fmt.Errorf("dataset %s has no files", datasetId)
	}

	series := make([]core.TimeSeries, 0, len(dataset.Files))
	for _, file := range dataset.Files {
		data, err := w.storage.GetObject(ctx, w.bucket, file.Key)
		if err != nil {
			return nil, fmt.Errorf("error reading dataset file %s: %w", file.Key, err)
		}
		ts, err := core.ReadSeriesCSV(file.Name, file.Label, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("error parsing dataset file %s: %w", file.Key, err)
		}
		series = append(series, *ts)
	}

	return series, nil
}

func (w *Worker) handleFeaturizeTask(ctx context.Context, payload messaging.FeaturizeTaskPayload) error {
	slog.Info("handling featurize task", "featureset_id", payload.FeaturesetId)

	var featureset database.Featureset
	if err := w.db.WithContext(ctx).First(&featureset, "id = ?", payload.FeaturesetId).Error; err != nil {
		return fmt.Errorf("error loading featureset %s: %w", payload.FeaturesetId, err)
	}
	owner := w.projectOwner(ctx, featureset.ProjectId)

	fail := func(err error) error {
		if dbErr := database.MarkFeaturesetFailed(ctx, w.db, featureset.Id, err.Error()); dbErr != nil {
			slog.Error("error marking featureset failed", "featureset_id", featureset.Id, "error", dbErr)
		}
		if owner != "" {
			w.notifyUser(ctx, owner, fmt.Sprintf("Featurization of '%s' failed with error %v. Please try again.", featureset.Name, err), database.NotificationError)
		}
		return err
	}

	if err := database.UpdateFeaturesetStatus(ctx, w.db, featureset.Id, database.JobRunning); err != nil {
		return err
	}

	series, err := w.loadDatasetSeries(ctx, featureset.DatasetId)
	if err != nil {
		return fail(err)
	}

	matrix, err := core.BuildFeatureMatrix(series, featureset.Features)
	if err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	if err := matrix.WriteCSV(&buf); err != nil {
		return fail(err)
	}
	if err := w.storage.PutObject(ctx, w.bucket, featureset.ArtifactKey, &buf); err != nil {
		return fail(fmt.Errorf("error storing featureset artifact: %w", err))
	}

	if err := database.UpdateFeaturesetStatus(ctx, w.db, featureset.Id, database.JobCompleted); err != nil {
		return err
	}

	if owner != "" {
		w.notifyUser(ctx, owner, fmt.Sprintf("Featurization of '%s' completed.", featureset.Name), database.NotificationInfo)
	}

	slog.Info("featurize task complete", "featureset_id", featureset.Id, "series", len(series))
	return nil
}

func (w *Worker) handleTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	slog.Info("handling train task", "model_id", payload.ModelId)

	var model database.Model
	if err := w.db.WithContext(ctx).Preload("Featureset").First(&model, "id = ?", payload.ModelId).Error; err != nil {
		return fmt.Errorf("error loading model %s: %w", payload.ModelId, err)
	}
	owner := w.projectOwner(ctx, model.ProjectId)

	fail := func(err error) error {
		if dbErr := database.MarkModelFailed(ctx, w.db, model.Id, err.Error()); dbErr != nil {
			slog.Error("error marking model failed", "model_id", model.Id, "error", dbErr)
		}
		if owner != "" {
			w.notifyUser(ctx, owner, fmt.Sprintf("Training of model '%s' failed with error %v. Please try again.", model.Name, err), database.NotificationError)
		}
		return err
	}

	if err := database.UpdateModelStatus(ctx, w.db, model.Id, database.JobRunning); err != nil {
		return err
	}

	if model.Featureset == nil {
		return fail(fmt.Errorf("featureset %s not found", model.FeaturesetId))
	}
	if model.Featureset.Status != database.JobCompleted {
		return fail(fmt.Errorf("featureset %s is not ready: status is %s", model.FeaturesetId, model.Featureset.Status))
	}

	data, err := w.storage.GetObject(ctx, w.bucket, model.Featureset.ArtifactKey)
	if err != nil {
		return fail(fmt.Errorf("error reading featureset artifact: %w", err))
	}
	matrix, err := core.ReadFeatureMatrix(bytes.NewReader(data))
	if err != nil {
		return fail(err)
	}

	var params map[string]any
	if len(model.Params) > 0 {
		if err := json.Unmarshal(model.Params, &params); err != nil {
			return fail(fmt.Errorf("error decoding model params: %w", err))
		}
	}

	trained, score, err := core.TrainModel(model.Type, params, matrix)
	if err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	if err := trained.Save(&buf); err != nil {
		return fail(err)
	}
	if err := w.storage.PutObject(ctx, w.bucket, model.ArtifactKey, &buf); err != nil {
		return fail(fmt.Errorf("error storing model artifact: %w", err))
	}

	if err := database.SetModelTrainScore(ctx, w.db, model.Id, score); err != nil {
		return err
	}
	if err := database.UpdateModelStatus(ctx, w.db, model.Id, database.JobCompleted); err != nil {
		return err
	}

	if owner != "" {
		w.notifyUser(ctx, owner, fmt.Sprintf("Model '%s' trained and ready.", model.Name), database.NotificationInfo)
	}

	slog.Info("train task complete", "model_id", model.Id, "train_score", score)
	return nil
}

func (w *Worker) handlePredictTask(ctx context.Context, payload messaging.PredictTaskPayload) error {
	slog.Info("handling predict task", "prediction_id", payload.PredictionId)

	var prediction database.Prediction
	if err := w.db.WithContext(ctx).Preload("Dataset").Preload("Model").First(&prediction, "id = ?", payload.PredictionId).Error; err != nil {
		return fmt.Errorf("error loading prediction %s: %w", payload.PredictionId, err)
	}
	owner := w.projectOwner(ctx, prediction.ProjectId)

	name := prediction.Id.String()
	if prediction.Dataset != nil && prediction.Model != nil {
		name = fmt.Sprintf("%s/%s", prediction.Dataset.Name, prediction.Model.Name)
	}

	fail := func(err error) error {
		if dbErr := database.MarkPredictionFailed(ctx, w.db, prediction.Id, err.Error()); dbErr != nil {
			slog.Error("error marking prediction failed", "prediction_id", prediction.Id, "error", dbErr)
		}
		if owner != "" {
			w.notifyUser(ctx, owner, fmt.Sprintf("Prediction '%s' failed with error %v. Please try again.", name, err), database.NotificationError)
		}
		return err
	}

	if err := database.UpdatePredictionStatus(ctx, w.db, prediction.Id, database.JobRunning); err != nil {
		return err
	}

	if prediction.Model == nil {
		return fail(fmt.Errorf("model %s not found", prediction.ModelId))
	}
	if prediction.Model.Status != database.JobCompleted {
		return fail(fmt.Errorf("model %s is not ready: status is %s", prediction.ModelId, prediction.Model.Status))
	}

	data, err := w.storage.GetObject(ctx, w.bucket, prediction.Model.ArtifactKey)
	if err != nil {
		return fail(fmt.Errorf("error reading model artifact: %w", err))
	}
	trained, err := core.LoadModel(bytes.NewReader(data))
	if err != nil {
		return fail(err)
	}

	series, err := w.loadDatasetSeries(ctx, prediction.DatasetId)
	if err != nil {
		return fail(err)
	}

	result, err := core.RunPrediction(trained, series)
	if err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	if err := result.WriteCSV(&buf); err != nil {
		return fail(err)
	}
	if err := w.storage.PutObject(ctx, w.bucket, prediction.ArtifactKey, &buf); err != nil {
		return fail(fmt.Errorf("error storing prediction artifact: %w", err))
	}

	if err := database.UpdatePredictionStatus(ctx, w.db, prediction.Id, database.JobCompleted); err != nil {
		return err
	}

	if owner != "" {
		w.notifyUser(ctx, owner, fmt.Sprintf("Prediction '%s' completed.", name), database.NotificationInfo)
	}

	slog.Info("predict task complete", "prediction_id", prediction.Id)
	return nil
}
