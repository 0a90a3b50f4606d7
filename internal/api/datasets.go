package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadSize = 256 << 20 // 256 MiB

// CreateDataset handles the multipart upload of a labeled time series
// dataset: a header file mapping file names to labels plus a tarball of the
// data files. The upload is validated in full before anything is stored.
func (s *BackendService) CreateDataset(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("error parsing multipart form", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload")
	}

	name := r.FormValue("name")
	if err := validateName(name); err != nil {
		return nil, err
	}

	projectId, err := uuid.Parse(r.FormValue("project_id"))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid project_id: %v", err)
	}

	if _, err := s.getOwnedProject(r, projectId); err != nil {
		return nil, err
	}

	headerFile, _, err := r.FormFile("header_file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing header_file upload")
	}
	defer headerFile.Close()

	tarball, _, err := r.FormFile("tarball")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing tarball upload")
	}
	defer tarball.Close()

	entries, err := core.ParseHeader(headerFile)
	if err != nil {
		return nil, uploadError(err)
	}

	series, err := core.ReadTarball(tarball, entries)
	if err != nil {
		return nil, uploadError(err)
	}

	ctx := r.Context()

	dataset := database.Dataset{
		Id:           uuid.New(),
		ProjectId:    projectId,
		Name:         name,
		CreationTime: utcNow(),
	}

	for i := range series {
		fileId := uuid.New()
		key := datasetFileKey(dataset.Id, fileId)

		var buf bytes.Buffer
		if err := series[i].WriteCSV(&buf); err != nil {
			slog.Error("error serializing series", "name", series[i].Name, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset")
		}
		if err := s.storage.PutObject(ctx, s.bucket, key, &buf); err != nil {
			slog.Error("error storing series", "key", key, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to store dataset")
		}

		dataset.Files = append(dataset.Files, database.DatasetFile{
			Id:        fileId,
			DatasetId: dataset.Id,
			Name:      series[i].Name,
			Key:       key,
			Label:     series[i].Label,
			Size:      int64(len(series[i].Time)),
		})
	}

	if err := s.db.WithContext(ctx).Create(&dataset).Error; err != nil {
		slog.Error("error creating dataset", "error", err)
		if err := s.storage.DeleteObjects(ctx, s.bucket, datasetPrefix(dataset.Id)); err != nil {
			slog.Error("error cleaning up dataset objects", "dataset_id", dataset.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset")
	}

	slog.Info("created dataset", "dataset_id", dataset.Id, "project_id", projectId, "files", len(dataset.Files))

	return api.CreateDatasetResponse{DatasetId: dataset.Id}, nil
}

// uploadError maps dataset validation failures to 400s carrying the exact
// validation message, anything else stays a plain error.
func uploadError(err error) error {
	var formatErr *core.DataFormatError
	var nameErr *core.FileNameError
	if errors.As(err, &formatErr) || errors.As(err, &nameErr) {
		return CodedError(http.StatusBadRequest, err)
	}
	return err
}

type listDatasetsParams struct {
	ProjectId *uuid.UUID `schema:"project_id"`
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listDatasetsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Preload("Files").
		Joins("JOIN projects ON projects.id = datasets.project_id").
		Where("projects.owner = ?", RequestUser(r))
	if params.ProjectId != nil {
		query = query.Where("datasets.project_id = ?", *params.ProjectId)
	}

	var datasets []database.Dataset
	if err := query.Order("datasets.creation_time").Find(&datasets).Error; err != nil {
		slog.Error("error listing datasets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving datasets")
	}

	out := make([]api.Dataset, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, convertDataset(d))
	}
	return out, nil
}

func (s *BackendService) getOwnedDataset(r *http.Request, datasetId uuid.UUID) (database.Dataset, error) {
	var dataset database.Dataset
	err := s.db.WithContext(r.Context()).Preload("Files").First(&dataset, "id = ?", datasetId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dataset, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		slog.Error("error getting dataset", "dataset_id", datasetId, "error", err)
		return dataset, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}

	if _, err := s.getOwnedProject(r, dataset.ProjectId); err != nil {
		return dataset, CodedErrorf(http.StatusNotFound, "dataset not found")
	}

	return dataset, nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	dataset, err := s.getOwnedDataset(r, datasetId)
	if err != nil {
		return nil, err
	}

	return convertDataset(dataset), nil
}

func (s *BackendService) DeleteDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	dataset, err := s.getOwnedDataset(r, datasetId)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if err := s.db.WithContext(ctx).Delete(&dataset).Error; err != nil {
		slog.Error("error deleting dataset", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete dataset")
	}

	if err := s.storage.DeleteObjects(ctx, s.bucket, datasetPrefix(datasetId)); err != nil {
		slog.Error("error deleting dataset objects", "dataset_id", datasetId, "error", err)
	}

	slog.Info("deleted dataset", "dataset_id", datasetId)

	return nil, nil
}
