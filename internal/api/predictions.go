package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"cesium-backend/internal/database"
	"cesium-backend/internal/messaging"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *BackendService) CreatePrediction(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreatePredictionRequest](r)
	if err != nil {
		return nil, err
	}

	dataset, err := s.getOwnedDataset(r, req.DatasetId)
	if err != nil {
		return nil, err
	}
	model, err := s.getOwnedModel(r, req.ModelId)
	if err != nil {
		return nil, err
	}

	if model.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status %s", model.Status)
	}

	ctx := r.Context()

	prediction := database.Prediction{
		Id:           uuid.New(),
		ProjectId:    dataset.ProjectId,
		DatasetId:    req.DatasetId,
		ModelId:      req.ModelId,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: utcNow(),
	}
	prediction.ArtifactKey = predictionKey(prediction.Id)

	if err := s.db.WithContext(ctx).Create(&prediction).Error; err != nil {
		slog.Error("error creating prediction", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create prediction")
	}

	payload := messaging.PredictTaskPayload{PredictionId: prediction.Id}
	if err := s.publisher.PublishPredictTask(ctx, payload); err != nil {
		slog.Error("error publishing predict task", "prediction_id", prediction.Id, "error", err)
		if err := database.MarkPredictionFailed(ctx, s.db, prediction.Id, "failed to queue prediction task"); err != nil {
			slog.Error("error marking prediction failed", "prediction_id", prediction.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue prediction task")
	}

	slog.Info("submitted prediction job", "prediction_id", prediction.Id, "dataset_id", req.DatasetId, "model_id", req.ModelId)

	return api.CreatePredictionResponse{PredictionId: prediction.Id}, nil
}

type listPredictionsParams struct {
	ProjectId *uuid.UUID `schema:"project_id"`
}

func (s *BackendService) ListPredictions(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listPredictionsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Joins("JOIN projects ON projects.id = predictions.project_id").
		Where("projects.owner = ?", RequestUser(r))
	if params.ProjectId != nil {
		query = query.Where("predictions.project_id = ?", *params.ProjectId)
	}

	var predictions []database.Prediction
	if err := query.Order("predictions.creation_time").Find(&predictions).Error; err != nil {
		slog.Error("error listing predictions", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving predictions")
	}

	out := make([]api.Prediction, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, convertPrediction(p))
	}
	return out, nil
}

func (s *BackendService) getOwnedPrediction(r *http.Request, predictionId uuid.UUID) (database.Prediction, error) {
	var prediction database.Prediction
	err := s.db.WithContext(r.Context()).First(&prediction, "id = ?", predictionId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return prediction, CodedErrorf(http.StatusNotFound, "prediction not found")
		}
		slog.Error("error getting prediction", "prediction_id", predictionId, "error", err)
		return prediction, CodedErrorf(http.StatusInternalServerError, "error retrieving prediction record")
	}

	if _, err := s.getOwnedProject(r, prediction.ProjectId); err != nil {
		return prediction, CodedErrorf(http.StatusNotFound, "prediction not found")
	}

	return prediction, nil
}

func (s *BackendService) GetPrediction(r *http.Request) (any, error) {
	predictionId, err := URLParamUUID(r, "prediction_id")
	if err != nil {
		return nil, err
	}

	prediction, err := s.getOwnedPrediction(r, predictionId)
	if err != nil {
		return nil, err
	}

	return convertPrediction(prediction), nil
}

func (s *BackendService) DeletePrediction(r *http.Request) (any, error) {
	predictionId, err := URLParamUUID(r, "prediction_id")
	if err != nil {
		return nil, err
	}

	prediction, err := s.getOwnedPrediction(r, predictionId)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if err := s.db.WithContext(ctx).Delete(&prediction).Error; err != nil {
		slog.Error("error deleting prediction", "prediction_id", predictionId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete prediction")
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, prediction.ArtifactKey); err != nil {
		slog.Error("error deleting prediction artifact", "prediction_id", predictionId, "error", err)
	}

	slog.Info("deleted prediction", "prediction_id", predictionId)

	return nil, nil
}

func (s *BackendService) DownloadPrediction(r *http.Request) (string, io.Reader, error) {
	predictionId, err := URLParamUUID(r, "prediction_id")
	if err != nil {
		return "", nil, err
	}

	prediction, err := s.getOwnedPrediction(r, predictionId)
	if err != nil {
		return "", nil, err
	}

	if prediction.Status != database.JobCompleted {
		return "", nil, CodedErrorf(http.StatusBadRequest, "prediction is not ready: prediction has status %s", prediction.Status)
	}

	content, err := s.storage.GetObjectStream(s.bucket, prediction.ArtifactKey)
	if err != nil {
		slog.Error("error reading prediction artifact", "prediction_id", predictionId, "error", err)
		return "", nil, CodedErrorf(http.StatusInternalServerError, "error retrieving prediction artifact")
	}

	return "cesium_prediction_results.csv", content, nil
}
