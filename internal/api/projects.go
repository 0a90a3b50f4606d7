package api

import (
	"errors"
	"log/slog"
	"net/http"

	"cesium-backend/internal/database"
	"cesium-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// getOwnedProject loads a project and checks it belongs to the user. Other
// users' projects are reported as not found rather than forbidden.
func (s *BackendService) getOwnedProject(r *http.Request, projectId uuid.UUID) (database.Project, error) {
	var project database.Project
	err := s.db.WithContext(r.Context()).First(&project, "id = ?", projectId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return project, CodedErrorf(http.StatusNotFound, "project not found")
		}
		slog.Error("error getting project", "project_id", projectId, "error", err)
		return project, CodedErrorf(http.StatusInternalServerError, "error retrieving project record")
	}

	if project.Owner != RequestUser(r) {
		return project, CodedErrorf(http.StatusNotFound, "project not found")
	}

	return project, nil
}

func (s *BackendService) CreateProject(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateProjectRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	project := database.Project{
		Id:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		Owner:        RequestUser(r),
		CreationTime: utcNow(),
	}

	if err := s.db.WithContext(r.Context()).Create(&project).Error; err != nil {
		slog.Error("error creating project", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create project")
	}

	slog.Info("created project", "project_id", project.Id, "owner", project.Owner)

	return api.CreateProjectResponse{ProjectId: project.Id}, nil
}

func (s *BackendService) ListProjects(r *http.Request) (any, error) {
	var projects []database.Project
	err := s.db.WithContext(r.Context()).Where("owner = ?", RequestUser(r)).Order("creation_time").Find(&projects).Error
	if err != nil {
		slog.Error("error listing projects", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving projects")
	}

	out := make([]api.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, convertProject(p))
	}
	return out, nil
}

func (s *BackendService) GetProject(r *http.Request) (any, error) {
	projectId, err := URLParamUUID(r, "project_id")
	if err != nil {
		return nil, err
	}

	project, err := s.getOwnedProject(r, projectId)
	if err != nil {
		return nil, err
	}

	return convertProject(project), nil
}

func (s *BackendService) UpdateProject(r *http.Request) (any, error) {
	projectId, err := URLParamUUID(r, "project_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateProjectRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	project, err := s.getOwnedProject(r, projectId)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"name": req.Name, "description": req.Description}
	if err := s.db.WithContext(r.Context()).Model(&project).Updates(updates).Error; err != nil {
		slog.Error("error updating project", "project_id", projectId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update project")
	}

	return nil, nil
}

func (s *BackendService) DeleteProject(r *http.Request) (any, error) {
	projectId, err := URLParamUUID(r, "project_id")
	if err != nil {
		return nil, err
	}

	project, err := s.getOwnedProject(r, projectId)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	prefixes, err := s.projectArtifactPrefixes(r, projectId)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Delete(&project).Error; err != nil {
		slog.Error("error deleting project", "project_id", projectId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete project")
	}

	// Artifact cleanup is best effort, records are already gone.
	for _, prefix := range prefixes {
		if err := s.storage.DeleteObjects(ctx, s.bucket, prefix); err != nil {
			slog.Error("error deleting project objects", "project_id", projectId, "prefix", prefix, "error", err)
		}
	}

	slog.Info("deleted project", "project_id", projectId)

	return nil, nil
}

// projectArtifactPrefixes collects the object store prefixes of everything
// hanging off a project, so they can be removed after the cascade delete.
func (s *BackendService) projectArtifactPrefixes(r *http.Request, projectId uuid.UUID) ([]string, error) {
	ctx := r.Context()

	var prefixes []string

	var datasets []database.Dataset
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectId).Find(&datasets).Error; err != nil {
		slog.Error("error listing datasets for project delete", "project_id", projectId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete project")
	}
	for _, dataset := range datasets {
		prefixes = append(prefixes, datasetPrefix(dataset.Id))
	}

	collect := func(model any) error {
		rows := []struct{ ArtifactKey string }{}
		if err := s.db.WithContext(ctx).Model(model).Where("project_id = ?", projectId).Find(&rows).Error; err != nil {
			slog.Error("error listing artifacts for project delete", "project_id", projectId, "error", err)
			return CodedErrorf(http.StatusInternalServerError, "failed to delete project")
		}
		for _, row := range rows {
			if row.ArtifactKey != "" {
				prefixes = append(prefixes, row.ArtifactKey)
			}
		}
		return nil
	}

	for _, model := range []any{&database.Featureset{}, &database.Model{}, &database.Prediction{}} {
		if err := collect(model); err != nil {
			return nil, err
		}
	}

	return prefixes, nil
}
