package api

import (
	"time"

	"github.com/google/uuid"
)

type Project struct {
	Id          uuid.UUID
	Name        string
	Description string
	Owner       string

	CreationTime time.Time
}

type DatasetFile struct {
	Id    uuid.UUID
	Name  string
	Label string
	Size  int64
}

type Dataset struct {
	Id        uuid.UUID
	ProjectId uuid.UUID
	Name      string

	Files []DatasetFile `json:"Files,omitempty"`

	CreationTime time.Time
}

type Featureset struct {
	Id        uuid.UUID
	ProjectId uuid.UUID
	DatasetId uuid.UUID
	Name      string
	Features  []string

	Status string
	TaskId *uuid.UUID `json:"TaskId,omitempty"`
	Error  string     `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Model struct {
	Id           uuid.UUID
	ProjectId    uuid.UUID
	FeaturesetId uuid.UUID
	Name         string
	Type         string
	Params       map[string]any `json:"Params,omitempty"`

	TrainScore *float64 `json:"TrainScore,omitempty"`

	Status string
	TaskId *uuid.UUID `json:"TaskId,omitempty"`
	Error  string     `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Prediction struct {
	Id        uuid.UUID
	ProjectId uuid.UUID
	DatasetId uuid.UUID
	ModelId   uuid.UUID

	Status string
	TaskId *uuid.UUID `json:"TaskId,omitempty"`
	Error  string     `json:"Error,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Notification struct {
	Id   uuid.UUID
	Note string
	Kind string
	Read bool

	CreationTime time.Time
}

type CreateProjectRequest struct {
	Name        string
	Description string
}

type CreateProjectResponse struct {
	ProjectId uuid.UUID
}

type UpdateProjectRequest struct {
	Name        string
	Description string
}

type CreateDatasetResponse struct {
	DatasetId uuid.UUID
}

type CreateFeaturesetRequest struct {
	Name      string
	ProjectId uuid.UUID
	DatasetId uuid.UUID
	Features  []string
}

type CreateFeaturesetResponse struct {
	FeaturesetId uuid.UUID
}

type TrainModelRequest struct {
	Name         string
	ProjectId    uuid.UUID
	FeaturesetId uuid.UUID
	Type         string

	// Hyperparameter values are submitted as literal strings, e.g.
	// {"n_neighbors": "5", "fit_intercept": "true"}.
	Params map[string]string
}

type TrainModelResponse struct {
	ModelId uuid.UUID
}

type CreatePredictionRequest struct {
	DatasetId uuid.UUID
	ModelId   uuid.UUID
}

type CreatePredictionResponse struct {
	PredictionId uuid.UUID
}

type FeaturesListResponse struct {
	CadenceFeatures []string
	GeneralFeatures []string
}

type ModelTypeInfo struct {
	Type   string
	Kind   string
	Params []string
}

type SocketAuthTokenResponse struct {
	Token string
}

type State struct {
	Projects []Project
	Datasets []Dataset
}
