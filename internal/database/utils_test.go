package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, GetMigrator(db).Migrate())
	return db
}

func createQueuedFeatureset(t *testing.T, db *gorm.DB) Featureset {
	project := Project{Id: uuid.New(), Name: "p", Owner: "owner@example.com", CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&project).Error)

	dataset := Dataset{Id: uuid.New(), ProjectId: project.Id, Name: "d", CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&dataset).Error)

	featureset := Featureset{
		Id:           uuid.New(),
		ProjectId:    project.Id,
		DatasetId:    dataset.Id,
		Name:         "f",
		Features:     StringSlice{"mean"},
		Status:       JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&featureset).Error)
	return featureset
}

func TestUpdateStatusRunningKeepsTask(t *testing.T) {
	db := setupTestDB(t)
	featureset := createQueuedFeatureset(t, db)

	require.NoError(t, UpdateFeaturesetStatus(context.Background(), db, featureset.Id, JobRunning))

	var updated Featureset
	require.NoError(t, db.First(&updated, "id = ?", featureset.Id).Error)
	assert.Equal(t, JobRunning, updated.Status)
	assert.True(t, updated.TaskId.Valid)
	assert.False(t, updated.CompletionTime.Valid)
}

func TestUpdateStatusCompletedClearsTask(t *testing.T) {
	db := setupTestDB(t)
	featureset := createQueuedFeatureset(t, db)

	require.NoError(t, UpdateFeaturesetStatus(context.Background(), db, featureset.Id, JobCompleted))

	var updated Featureset
	require.NoError(t, db.First(&updated, "id = ?", featureset.Id).Error)
	assert.Equal(t, JobCompleted, updated.Status)
	assert.False(t, updated.TaskId.Valid)
	assert.True(t, updated.CompletionTime.Valid)
	assert.Empty(t, updated.Error)
}

func TestMarkFeaturesetFailed(t *testing.T) {
	db := setupTestDB(t)
	featureset := createQueuedFeatureset(t, db)

	require.NoError(t, MarkFeaturesetFailed(context.Background(), db, featureset.Id, "dataset has no files"))

	var updated Featureset
	require.NoError(t, db.First(&updated, "id = ?", featureset.Id).Error)
	assert.Equal(t, JobFailed, updated.Status)
	assert.Equal(t, "dataset has no files", updated.Error)
	assert.False(t, updated.TaskId.Valid)
	assert.True(t, updated.CompletionTime.Valid)
}

func TestSetModelTrainScore(t *testing.T) {
	db := setupTestDB(t)
	featureset := createQueuedFeatureset(t, db)

	model := Model{
		Id:           uuid.New(),
		ProjectId:    featureset.ProjectId,
		FeaturesetId: featureset.Id,
		Name:         "m",
		Type:         "nearest_centroid",
		Status:       JobRunning,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&model).Error)

	require.NoError(t, SetModelTrainScore(context.Background(), db, model.Id, 0.875))

	var updated Model
	require.NoError(t, db.First(&updated, "id = ?", model.Id).Error)
	require.True(t, updated.TrainScore.Valid)
	assert.Equal(t, 0.875, updated.TrainScore.Float64)
}

func TestDeleteProjectCascades(t *testing.T) {
	db := setupTestDB(t)
	featureset := createQueuedFeatureset(t, db)

	require.NoError(t, db.Delete(&Project{Id: featureset.ProjectId}).Error)

	var count int64
	require.NoError(t, db.Model(&Featureset{}).Where("id = ?", featureset.Id).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	require.NoError(t, db.Model(&Dataset{}).Where("id = ?", featureset.DatasetId).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSaveNotification(t *testing.T) {
	db := setupTestDB(t)

	SaveNotification(context.Background(), db, "owner@example.com", "Featurization of 'f' completed.", NotificationInfo)

	var notifications []Notification
	require.NoError(t, db.Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, "owner@example.com", notifications[0].Username)
	assert.Equal(t, NotificationInfo, notifications[0].Kind)
	assert.False(t, notifications[0].Read)
}
