package api

import (
	"net/http"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/internal/messaging"
	"cesium-backend/internal/storage"
	"cesium-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	storage   storage.Provider
	bucket    string
	jwtSecret []byte
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, store storage.Provider, bucket string, jwtSecret []byte) *BackendService {
	return &BackendService{
		db:        db,
		publisher: publisher,
		storage:   store,
		bucket:    bucket,
		jwtSecret: jwtSecret,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/projects", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateProject))
		r.Get("/", RestHandler(s.ListProjects))
		r.Get("/{project_id}", RestHandler(s.GetProject))
		r.Put("/{project_id}", RestHandler(s.UpdateProject))
		r.Delete("/{project_id}", RestHandler(s.DeleteProject))
	})

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Get("/{dataset_id}", RestHandler(s.GetDataset))
		r.Delete("/{dataset_id}", RestHandler(s.DeleteDataset))
	})

	r.Route("/features", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateFeatureset))
		r.Get("/", RestHandler(s.ListFeaturesets))
		r.Get("/{featureset_id}", RestHandler(s.GetFeatureset))
		r.Delete("/{featureset_id}", RestHandler(s.DeleteFeatureset))
		r.Get("/{featureset_id}/download", DownloadHandler(s.DownloadFeatureset))
	})

	r.Route("/models", func(r chi.Router) {
		r.Post("/", RestHandler(s.TrainModel))
		r.Get("/", RestHandler(s.ListModels))
		r.Get("/{model_id}", RestHandler(s.GetModel))
		r.Delete("/{model_id}", RestHandler(s.DeleteModel))
	})

	r.Route("/predictions", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreatePrediction))
		r.Get("/", RestHandler(s.ListPredictions))
		r.Get("/{prediction_id}", RestHandler(s.GetPrediction))
		r.Delete("/{prediction_id}", RestHandler(s.DeletePrediction))
		r.Get("/{prediction_id}/download", DownloadHandler(s.DownloadPrediction))
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListNotifications))
		r.Put("/{notification_id}/read", RestHandler(s.MarkNotificationRead))
		r.Delete("/{notification_id}", RestHandler(s.DeleteNotification))
	})

	r.Get("/features_list", RestHandler(s.GetFeaturesList))
	r.Get("/model_types", RestHandler(s.GetModelTypes))
	r.Get("/state", RestHandler(s.GetState))
	r.Get("/socket_auth_token", RestHandler(s.GetSocketAuthToken))
}

func (s *BackendService) GetFeaturesList(r *http.Request) (any, error) {
	return api.FeaturesListResponse{
		CadenceFeatures: core.CadenceFeatures,
		GeneralFeatures: core.GeneralFeatures,
	}, nil
}

func (s *BackendService) GetModelTypes(r *http.Request) (any, error) {
	var types []api.ModelTypeInfo
	for _, t := range core.ModelTypes() {
		info, err := core.GetModelInfo(t)
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "error listing model types")
		}
		types = append(types, api.ModelTypeInfo{Type: t, Kind: info.Kind, Params: info.Params})
	}
	return types, nil
}

// GetState returns the user's projects and datasets in one response, the
// front end uses this to hydrate on page load.
func (s *BackendService) GetState(r *http.Request) (any, error) {
	user := RequestUser(r)
	ctx := r.Context()

	var projects []database.Project
	if err := s.db.WithContext(ctx).Where("owner = ?", user).Order("creation_time").Find(&projects).Error; err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving projects")
	}

	projectIds := make([]any, 0, len(projects))
	for _, p := range projects {
		projectIds = append(projectIds, p.Id)
	}

	var datasets []database.Dataset
	if len(projectIds) > 0 {
		if err := s.db.WithContext(ctx).Preload("Files").Where("project_id IN ?", projectIds).Order("creation_time").Find(&datasets).Error; err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving datasets")
		}
	}

	state := api.State{}
	for _, p := range projects {
		state.Projects = append(state.Projects, convertProject(p))
	}
	for _, d := range datasets {
		state.Datasets = append(state.Datasets, convertDataset(d))
	}

	return state, nil
}

func (s *BackendService) GetSocketAuthToken(r *http.Request) (any, error) {
	token, err := socketAuthToken(s.jwtSecret, RequestUser(r))
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error creating socket auth token")
	}
	return api.SocketAuthTokenResponse{Token: token}, nil
}
