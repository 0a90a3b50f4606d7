package jobs_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cesium-backend/internal/core"
	"cesium-backend/internal/database"
	"cesium-backend/internal/jobs"
	"cesium-backend/internal/messaging"
	"cesium-backend/internal/notify"
	"cesium-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testBucket = "test-bucket"
	testOwner  = "owner@example.com"
)

type capturingNotifier struct {
	mu     sync.Mutex
	pushed []notify.Notification
}

func (n *capturingNotifier) Push(ctx context.Context, notification notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushed = append(n.pushed, notification)
}

func (n *capturingNotifier) notes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	notes := make([]string, 0, len(n.pushed))
	for _, p := range n.pushed {
		notes = append(notes, p.Note)
	}
	return notes
}

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func startWorker(t *testing.T, db *gorm.DB, provider storage.Provider, queue *messaging.InMemoryQueue, notifier notify.Notifier) {
	worker := jobs.NewWorker(db, queue, provider, testBucket, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go worker.Run(ctx)
}

func waitFor(t *testing.T, check func() bool) {
	for i := 0; i < 40; i++ {
		if check() {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatal("timeout reached before task completed")
}

func waitForFeatureset(t *testing.T, db *gorm.DB, id uuid.UUID) database.Featureset {
	var featureset database.Featureset
	waitFor(t, func() bool {
		featureset = database.Featureset{}
		require.NoError(t, db.First(&featureset, "id = ?", id).Error)
		return featureset.Status == database.JobCompleted || featureset.Status == database.JobFailed
	})
	return featureset
}

func waitForModel(t *testing.T, db *gorm.DB, id uuid.UUID) database.Model {
	var model database.Model
	waitFor(t, func() bool {
		model = database.Model{}
		require.NoError(t, db.First(&model, "id = ?", id).Error)
		return model.Status == database.JobCompleted || model.Status == database.JobFailed
	})
	return model
}

func waitForPrediction(t *testing.T, db *gorm.DB, id uuid.UUID) database.Prediction {
	var prediction database.Prediction
	waitFor(t, func() bool {
		prediction = database.Prediction{}
		require.NoError(t, db.First(&prediction, "id = ?", id).Error)
		return prediction.Status == database.JobCompleted || prediction.Status == database.JobFailed
	})
	return prediction
}

func seedProject() *database.Project {
	return &database.Project{
		Id:           uuid.New(),
		Name:         "Stars",
		Owner:        testOwner,
		CreationTime: time.Now().UTC(),
	}
}

// seedDataset creates a two series dataset and writes the series files to
// storage. Series "a.dat" has mean 0.5 and std 0.5, "b.dat" mean 11 and std 1.
func seedDataset(t *testing.T, db *gorm.DB, provider storage.Provider, project *database.Project) *database.Dataset {
	datasetId := uuid.New()
	dataset := &database.Dataset{
		Id:           datasetId,
		ProjectId:    project.Id,
		Name:         "survey",
		CreationTime: time.Now().UTC(),
		Files: []database.DatasetFile{
			{Id: uuid.New(), DatasetId: datasetId, Name: "a.dat", Key: fmt.Sprintf("datasets/%s/a.csv", datasetId), Label: "class1", Size: 2},
			{Id: uuid.New(), DatasetId: datasetId, Name: "b.dat", Key: fmt.Sprintf("datasets/%s/b.csv", datasetId), Label: "class2", Size: 2},
		},
	}
	require.NoError(t, db.Create(dataset).Error)

	ctx := context.Background()
	require.NoError(t, provider.PutObject(ctx, testBucket, dataset.Files[0].Key, strings.NewReader("0,0\n1,1\n")))
	require.NoError(t, provider.PutObject(ctx, testBucket, dataset.Files[1].Key, strings.NewReader("0,10\n1,12\n")))

	return dataset
}

func queuedFeatureset(project *database.Project, dataset *database.Dataset, features []string) *database.Featureset {
	id := uuid.New()
	return &database.Featureset{
		Id:           id,
		ProjectId:    project.Id,
		DatasetId:    dataset.Id,
		Name:         "basic",
		Features:     features,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("featuresets/%s.csv", id),
	}
}

// seedCompletedFeatureset stores a feature matrix artifact for the dataset
// and records the featureset as completed.
func seedCompletedFeatureset(t *testing.T, db *gorm.DB, provider storage.Provider, project *database.Project, dataset *database.Dataset) (*database.Featureset, *core.FeatureMatrix) {
	featureset := queuedFeatureset(project, dataset, []string{"mean", "std"})
	featureset.Status = database.JobCompleted
	featureset.TaskId = uuid.NullUUID{}
	require.NoError(t, db.Create(featureset).Error)

	series := []core.TimeSeries{
		{Name: "a.dat", Label: "class1", Time: []float64{0, 1}, Value: []float64{0, 1}},
		{Name: "b.dat", Label: "class2", Time: []float64{0, 1}, Value: []float64{10, 12}},
	}
	matrix, err := core.BuildFeatureMatrix(series, featureset.Features)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, matrix.WriteCSV(&buf))
	require.NoError(t, provider.PutObject(context.Background(), testBucket, featureset.ArtifactKey, &buf))

	return featureset, matrix
}

func TestFeaturizeTask(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)

	featureset := queuedFeatureset(project, dataset, []string{"mean", "std", "n_obs"})
	require.NoError(t, db.Create(featureset).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{FeaturesetId: featureset.Id}))

	result := waitForFeatureset(t, db, featureset.Id)
	assert.Equal(t, database.JobCompleted, result.Status)
	assert.True(t, result.CompletionTime.Valid)
	assert.False(t, result.TaskId.Valid)
	assert.Empty(t, result.Error)

	data, err := provider.GetObject(context.Background(), testBucket, featureset.ArtifactKey)
	require.NoError(t, err)
	matrix, err := core.ReadFeatureMatrix(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"mean", "std", "n_obs"}, matrix.Features)
	assert.Equal(t, []string{"a.dat", "b.dat"}, matrix.Names)
	assert.Equal(t, [][]float64{{0.5, 0.5, 2}, {11, 1, 2}}, matrix.Rows)

	var notifications []database.Notification
	require.NoError(t, db.Where("username = ?", testOwner).Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Featurization of 'basic' completed.", notifications[0].Note)
	assert.Equal(t, database.NotificationInfo, notifications[0].Kind)
	assert.Contains(t, notifier.notes(), "Featurization of 'basic' completed.")
}

func TestFeaturizeTaskMissingFile(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)

	require.NoError(t, provider.DeleteObjects(context.Background(), testBucket, dataset.Files[1].Key))

	featureset := queuedFeatureset(project, dataset, []string{"mean"})
	require.NoError(t, db.Create(featureset).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{FeaturesetId: featureset.Id}))

	result := waitForFeatureset(t, db, featureset.Id)
	assert.Equal(t, database.JobFailed, result.Status)
	assert.True(t, result.CompletionTime.Valid)
	assert.False(t, result.TaskId.Valid)
	assert.Contains(t, result.Error, dataset.Files[1].Key)

	var notifications []database.Notification
	require.NoError(t, db.Where("username = ?", testOwner).Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, database.NotificationError, notifications[0].Kind)
	assert.Contains(t, notifications[0].Note, "Featurization of 'basic' failed with error")
	assert.Contains(t, notifications[0].Note, "Please try again.")
}

func TestTrainTask(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)
	featureset, _ := seedCompletedFeatureset(t, db, provider, project, dataset)

	modelId := uuid.New()
	model := &database.Model{
		Id:           modelId,
		ProjectId:    project.Id,
		FeaturesetId: featureset.Id,
		Name:         "knn",
		Type:         core.ModelKNNClassifier,
		Params:       datatypes.JSON([]byte(`{"n_neighbors": 1}`)),
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("models/%s.json", modelId),
	}
	require.NoError(t, db.Create(model).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	result := waitForModel(t, db, modelId)
	assert.Equal(t, database.JobCompleted, result.Status)
	assert.True(t, result.CompletionTime.Valid)
	assert.False(t, result.TaskId.Valid)
	require.True(t, result.TrainScore.Valid)
	assert.Equal(t, 1.0, result.TrainScore.Float64)

	data, err := provider.GetObject(context.Background(), testBucket, model.ArtifactKey)
	require.NoError(t, err)
	trained, err := core.LoadModel(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, core.ModelKNNClassifier, trained.Type)
	assert.Equal(t, []string{"mean", "std"}, trained.Features)
	assert.Equal(t, []string{"class1", "class2"}, trained.Classes)

	assert.Contains(t, notifier.notes(), "Model 'knn' trained and ready.")
}

func TestTrainTaskFeaturesetNotReady(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)

	featureset := queuedFeatureset(project, dataset, []string{"mean"})
	featureset.Status = database.JobRunning
	require.NoError(t, db.Create(featureset).Error)

	modelId := uuid.New()
	model := &database.Model{
		Id:           modelId,
		ProjectId:    project.Id,
		FeaturesetId: featureset.Id,
		Name:         "knn",
		Type:         core.ModelKNNClassifier,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("models/%s.json", modelId),
	}
	require.NoError(t, db.Create(model).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishTrainTask(context.Background(), messaging.TrainTaskPayload{ModelId: modelId}))

	result := waitForModel(t, db, modelId)
	assert.Equal(t, database.JobFailed, result.Status)
	assert.Contains(t, result.Error, "is not ready")
	assert.False(t, result.TrainScore.Valid)
}

func TestPredictTask(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)
	featureset, matrix := seedCompletedFeatureset(t, db, provider, project, dataset)

	trained, _, err := core.TrainModel(core.ModelNearestCentroid, nil, matrix)
	require.NoError(t, err)

	modelId := uuid.New()
	model := &database.Model{
		Id:             modelId,
		ProjectId:      project.Id,
		FeaturesetId:   featureset.Id,
		Name:           "centroid",
		Type:           core.ModelNearestCentroid,
		Status:         database.JobCompleted,
		CreationTime:   time.Now().UTC(),
		ArtifactKey:    fmt.Sprintf("models/%s.json", modelId),
		CompletionTime: featureset.CompletionTime,
	}
	require.NoError(t, db.Create(model).Error)

	var buf bytes.Buffer
	require.NoError(t, trained.Save(&buf))
	require.NoError(t, provider.PutObject(context.Background(), testBucket, model.ArtifactKey, &buf))

	predictionId := uuid.New()
	prediction := &database.Prediction{
		Id:           predictionId,
		ProjectId:    project.Id,
		DatasetId:    dataset.Id,
		ModelId:      modelId,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("predictions/%s.csv", predictionId),
	}
	require.NoError(t, db.Create(prediction).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishPredictTask(context.Background(), messaging.PredictTaskPayload{PredictionId: predictionId}))

	result := waitForPrediction(t, db, predictionId)
	assert.Equal(t, database.JobCompleted, result.Status)
	assert.True(t, result.CompletionTime.Valid)
	assert.False(t, result.TaskId.Valid)

	data, err := provider.GetObject(context.Background(), testBucket, prediction.ArtifactKey)
	require.NoError(t, err)
	predicted, err := core.ReadPredictionResult(bytes.NewReader(data))
	require.NoError(t, err)

	byName := map[string]string{}
	for i, name := range predicted.Names {
		byName[name] = predicted.Predicted[i]
	}
	assert.Equal(t, map[string]string{"a.dat": "class1", "b.dat": "class2"}, byName)

	assert.Contains(t, notifier.notes(), "Prediction 'survey/centroid' completed.")
}

func TestPredictTaskModelNotReady(t *testing.T) {
	project := seedProject()
	db := createDB(t, project)
	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	dataset := seedDataset(t, db, provider, project)
	featureset, _ := seedCompletedFeatureset(t, db, provider, project, dataset)

	modelId := uuid.New()
	model := &database.Model{
		Id:           modelId,
		ProjectId:    project.Id,
		FeaturesetId: featureset.Id,
		Name:         "centroid",
		Type:         core.ModelNearestCentroid,
		Status:       database.JobRunning,
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("models/%s.json", modelId),
	}
	require.NoError(t, db.Create(model).Error)

	predictionId := uuid.New()
	prediction := &database.Prediction{
		Id:           predictionId,
		ProjectId:    project.Id,
		DatasetId:    dataset.Id,
		ModelId:      modelId,
		Status:       database.JobQueued,
		TaskId:       uuid.NullUUID{UUID: uuid.New(), Valid: true},
		CreationTime: time.Now().UTC(),
		ArtifactKey:  fmt.Sprintf("predictions/%s.csv", predictionId),
	}
	require.NoError(t, db.Create(prediction).Error)

	queue := messaging.NewInMemoryQueue()
	notifier := &capturingNotifier{}
	startWorker(t, db, provider, queue, notifier)

	require.NoError(t, queue.PublishPredictTask(context.Background(), messaging.PredictTaskPayload{PredictionId: predictionId}))

	result := waitForPrediction(t, db, predictionId)
	assert.Equal(t, database.JobFailed, result.Status)
	assert.Contains(t, result.Error, "is not ready")

	var notifications []database.Notification
	require.NoError(t, db.Where("username = ? AND kind = ?", testOwner, database.NotificationError).Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Note, "Prediction 'survey/centroid' failed with error")
}
