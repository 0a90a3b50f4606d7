package api

import (
	"encoding/json"
	"time"

	"cesium-backend/internal/database"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
)

func convertProject(project database.Project) api.Project {
	return api.Project{
		Id:           project.Id,
		Name:         project.Name,
		Description:  project.Description,
		Owner:        project.Owner,
		CreationTime: project.CreationTime,
	}
}

func convertDataset(dataset database.Dataset) api.Dataset {
	out := api.Dataset{
		Id:           dataset.Id,
		ProjectId:    dataset.ProjectId,
		Name:         dataset.Name,
		CreationTime: dataset.CreationTime,
	}
	for _, file := range dataset.Files {
		out.Files = append(out.Files, api.DatasetFile{
			Id:    file.Id,
			Name:  file.Name,
			Label: file.Label,
			Size:  file.Size,
		})
	}
	return out
}

func convertTaskId(taskId uuid.NullUUID) *uuid.UUID {
	if !taskId.Valid {
		return nil
	}
	id := taskId.UUID
	return &id
}

func convertFeatureset(featureset database.Featureset) api.Featureset {
	out := api.Featureset{
		Id:           featureset.Id,
		ProjectId:    featureset.ProjectId,
		DatasetId:    featureset.DatasetId,
		Name:         featureset.Name,
		Features:     featureset.Features,
		Status:       featureset.Status,
		TaskId:       convertTaskId(featureset.TaskId),
		Error:        featureset.Error,
		CreationTime: featureset.CreationTime,
	}
	if featureset.CompletionTime.Valid {
		completed := featureset.CompletionTime.Time
		out.CompletionTime = &completed
	}
	return out
}

func convertModel(model database.Model) api.Model {
	out := api.Model{
		Id:           model.Id,
		ProjectId:    model.ProjectId,
		FeaturesetId: model.FeaturesetId,
		Name:         model.Name,
		Type:         model.Type,
		Status:       model.Status,
		TaskId:       convertTaskId(model.TaskId),
		Error:        model.Error,
		CreationTime: model.CreationTime,
	}
	if len(model.Params) > 0 {
		// Params were serialized by us, a decode failure would mean db
		// corruption, in which case they are omitted from the response.
		_ = json.Unmarshal(model.Params, &out.Params)
	}
	if model.TrainScore.Valid {
		score := model.TrainScore.Float64
		out.TrainScore = &score
	}
	if model.CompletionTime.Valid {
		completed := model.CompletionTime.Time
		out.CompletionTime = &completed
	}
	return out
}

func convertPrediction(prediction database.Prediction) api.Prediction {
	out := api.Prediction{
		Id:           prediction.Id,
		ProjectId:    prediction.ProjectId,
		DatasetId:    prediction.DatasetId,
		ModelId:      prediction.ModelId,
		Status:       prediction.Status,
		TaskId:       convertTaskId(prediction.TaskId),
		Error:        prediction.Error,
		CreationTime: prediction.CreationTime,
	}
	if prediction.CompletionTime.Valid {
		completed := prediction.CompletionTime.Time
		out.CompletionTime = &completed
	}
	return out
}

func convertNotification(notification database.Notification) api.Notification {
	return api.Notification{
		Id:           notification.Id,
		Note:         notification.Note,
		Kind:         notification.Kind,
		Read:         notification.Read,
		CreationTime: notification.CreationTime,
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
