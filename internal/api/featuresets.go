package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/internal/messaging"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *BackendService) CreateFeatureset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateFeaturesetRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no features selected")
	}
	for _, f := range req.Features {
		if !core.ValidFeature(f) {
			return nil, CodedErrorf(http.StatusBadRequest, "unknown feature: %s", f)
		}
	}

	dataset, err := s.getOwnedDataset(r, req.DatasetId)
	if err != nil {
		return nil, err
	}
	if dataset.ProjectId != req.ProjectId {
		return nil, CodedErrorf(http.StatusBadRequest, "dataset does not belong to the given project")
	}

	ctx := r.Context()

	featureset := database.Featureset{
		Id:           uuid.New(),
		ProjectId:    req.ProjectId,
		DatasetId:    req.DatasetId,
		Name:         req.Name,
		Features:     req.Features,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: utcNow(),
	}
	featureset.ArtifactKey = featuresetKey(featureset.Id)

	if err := s.db.WithContext(ctx).Create(&featureset).Error; err != nil {
		slog.Error("error creating featureset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create featureset")
	}

	payload := messaging.FeaturizeTaskPayload{FeaturesetId: featureset.Id}
	if err := s.publisher.PublishFeaturizeTask(ctx, payload); err != nil {
		slog.Error("error publishing featurize task", "featureset_id", featureset.Id, "error", err)
		if err := database.MarkFeaturesetFailed(ctx, s.db, featureset.Id, "failed to queue featurization task"); err != nil {
			slog.Error("error marking featureset failed", "featureset_id", featureset.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue featurization task")
	}

	slog.Info("submitted featurization job", "featureset_id", featureset.Id, "dataset_id", req.DatasetId)

	return api.CreateFeaturesetResponse{FeaturesetId: featureset.Id}, nil
}

type listFeaturesetsParams struct {
	ProjectId *uuid.UUID `schema:"project_id"`
}

func (s *BackendService) ListFeaturesets(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listFeaturesetsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).
		Joins("JOIN projects ON projects.id = featuresets.project_id").
		Where("projects.owner = ?", RequestUser(r))
	if params.ProjectId != nil {
		query = query.Where("featuresets.project_id = ?", *params.ProjectId)
	}

	var featuresets []database.Featureset
	if err := query.Order("featuresets.creation_time").Find(&featuresets).Error; err != nil {
		slog.Error("error listing featuresets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving featuresets")
	}

	out := make([]api.Featureset, 0, len(featuresets))
	for _, f := range featuresets {
		out = append(out, convertFeatureset(f))
	}
	return out, nil
}

func (s *BackendService) getOwnedFeatureset(r *http.Request, featuresetId uuid.UUID) (database.Featureset, error) {
	var featureset database.Featureset
	err := s.db.WithContext(r.Context()).First(&featureset, "id = ?", featuresetId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return featureset, CodedErrorf(http.StatusNotFound, "featureset not found")
		}
		slog.Error("error getting featureset", "featureset_id", featuresetId, "error", err)
		return featureset, CodedErrorf(http.StatusInternalServerError, "error retrieving featureset record")
	}

	if _, err := s.getOwnedProject(r, featureset.ProjectId); err != nil {
		return featureset, CodedErrorf(http.StatusNotFound, "featureset not found")
	}

	return featureset, nil
}

func (s *BackendService) GetFeatureset(r *http.Request) (any, error) {
	featuresetId, err := URLParamUUID(r, "featureset_id")
	if err != nil {
		return nil, err
	}

	featureset, err := s.getOwnedFeatureset(r, featuresetId)
	if err != nil {
		return nil, err
	}

	return convertFeatureset(featureset), nil
}

func (s *BackendService) DeleteFeatureset(r *http.Request) (any, error) {
	featuresetId, err := URLParamUUID(r, "featureset_id")
	if err != nil {
		return nil, err
	}

	featureset, err := s.getOwnedFeatureset(r, featuresetId)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if err := s.db.WithContext(ctx).Delete(&featureset).Error; err != nil {
		slog.Error("error deleting featureset", "featureset_id", featuresetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete featureset")
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, featureset.ArtifactKey); err != nil {
		slog.Error("error deleting featureset artifact", "featureset_id", featuresetId, "error", err)
	}

	slog.Info("deleted featureset", "featureset_id", featuresetId)

	return nil, nil
}

func (s *BackendService) DownloadFeatureset(r *http.Request) (string, io.Reader, error) {
	featuresetId, err := URLParamUUID(r, "featureset_id")
	if err != nil {
		return "", nil, err
	}

	featureset, err := s.getOwnedFeatureset(r, featuresetId)
	if err != nil {
		return "", nil, err
	}

	if featureset.Status != database.JobCompleted {
		return "", nil, CodedErrorf(http.StatusBadRequest, "featureset is not ready: featureset has status %s", featureset.Status)
	}

	content, err := s.storage.GetObjectStream(s.bucket, featureset.ArtifactKey)
	if err != nil {
		slog.Error("error reading featureset artifact", "featureset_id", featuresetId, "error", err)
		return "", nil, CodedErrorf(http.StatusInternalServerError, "error retrieving featureset artifact")
	}

	return "cesium_featureset.csv", content, nil
}
