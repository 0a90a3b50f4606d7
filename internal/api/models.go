package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/internal/messaging"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *BackendService) TrainModel(r *http.Request) (any, error) {
	req, err := ParseRequest[api.TrainModelRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	params, err := core.ConvertParams(req.Type, req.Params)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	featureset, err := s.getOwnedFeatureset(r, req.FeaturesetId)
	if err != nil {
		return nil, err
	}
	if featureset.ProjectId != req.ProjectId {
		return nil, CodedErrorf(http.StatusBadRequest, "featureset does not belong to the given project")
	}
	if featureset.Status != database.JobCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "featureset is not ready: featureset has status %s", featureset.Status)
	}

	serialized, err := json.Marshal(params)
	if err != nil {
		slog.Error("error serializing model params", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model")
	}

	ctx := r.Context()

	model := database.Model{
		Id:           uuid.New(),
		ProjectId:    req.ProjectId,
		FeaturesetId: req.FeaturesetId,
		Name:         req.Name,
		Type:         req.Type,
		Params:       datatypes.JSON(serialized),
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: utcNow(),
	}
	model.ArtifactKey = modelKey(model.Id)

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Error("error creating model", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create model")
	}

	payload := messaging.TrainTaskPayload{ModelId: model.Id}
	if err := s.publisher.PublishTrainTask(ctx, payload); err != nil {
		slog.Error("error publishing train task", "model_id", model.Id, "error", err)
		if err := database.MarkModelFailed(ctx, s.db, model.Id, "failed to queue training task"); err != nil {
			slog.Error("error marking model failed", "model_id", model.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue training task")
	}

	slog.Info("submitted training job", "model_id", model.Id, "featureset_id", req.FeaturesetId, "type", req.Type)

	return api.TrainModelResponse{ModelId: model.Id}, nil
}

type listModelsParams struct {
	ProjectId *uuid.UUID `schema:"project_id"`
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listModelsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Joins("JOIN projects ON projects.id = models.project_id").
		Where("projects.owner = ?", RequestUser(r))
	if params.ProjectId != nil {
		query = query.Where("models.project_id = ?", *params.ProjectId)
	}

	var models []database.Model
	if err := query.Order("models.creation_time").Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving models")
	}

	out := make([]api.Model, 0, len(models))
	for _, m := range models {
		out = append(out, convertModel(m))
	}
	return out, nil
}

func (s *BackendService) getOwnedModel(r *http.Request, modelId uuid.UUID) (database.Model, error) {
	var model database.Model
	err := s.db.WithContext(r.Context()).First(&model, "id = ?", modelId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "model_id", modelId, "error", err)
		return model, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if _, err := s.getOwnedProject(r, model.ProjectId); err != nil {
		return model, CodedErrorf(http.StatusNotFound, "model not found")
	}

	return model, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	model, err := s.getOwnedModel(r, modelId)
	if err != nil {
		return nil, err
	}

	return convertModel(model), nil
}

func (s *BackendService) DeleteModel(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	model, err := s.getOwnedModel(r, modelId)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if err := s.db.WithContext(ctx).Delete(&model).Error; err != nil {
		slog.Error("error deleting model", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete model")
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, model.ArtifactKey); err != nil {
		slog.Error("error deleting model artifact", "model_id", modelId, "error", err)
	}

	slog.Info("deleted model", "model_id", modelId)

	return nil, nil
}
