//go:build integration

package integrationtests

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "cesium-backend/internal/api"
	"cesium-backend/internal/database"
	"cesium-backend/internal/jobs"
	"cesium-backend/internal/messaging"
	"cesium-backend/internal/notify"
	"cesium-backend/internal/storage"
	"cesium-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowBucket = "cesium-data"

func uploadDataset(t *testing.T, router http.Handler, name string, projectId uuid.UUID, header string, files map[string]string) api.CreateDatasetResponse {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	require.NoError(t, writer.WriteField("name", name))
	require.NoError(t, writer.WriteField("project_id", projectId.String()))

	headerPart, err := writer.CreateFormFile("header_file", "headerfile.dat")
	require.NoError(t, err)
	_, err = headerPart.Write([]byte(header))
	require.NoError(t, err)

	tarballPart, err := writer.CreateFormFile("tarball", "tsdata.tar.gz")
	require.NoError(t, err)
	gz := gzip.NewWriter(tarballPart)
	tw := tar.NewWriter(gz)
	for fname, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: fname, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/datasets", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.CreateDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func waitForJob(t *testing.T, fetch func() (string, string)) {
	for i := 0; i < 60; i++ {
		time.Sleep(500 * time.Millisecond)
		status, errMsg := fetch()
		if status == database.JobCompleted {
			return
		}
		if status == database.JobFailed {
			t.Fatalf("job failed: %s", errMsg)
		}
	}
	t.Fatal("timeout reached before job completed")
}

func TestEndToEndWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	minioURL := setupMinioContainer(t, ctx)
	provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     minioURL,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, provider.CreateBucket(ctx, workflowBucket))

	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()

	service := backend.NewBackendService(db, queue, provider, workflowBucket, []byte("test-secret"))
	router := chi.NewRouter()
	service.AddRoutes(router)

	worker := jobs.NewWorker(db, queue, provider, workflowBucket, notify.NoopNotifier{})
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	var project api.CreateProjectResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/projects", api.CreateProjectRequest{Name: "Variable Stars"}, &project))

	dataset := uploadDataset(t, router, "survey", project.ProjectId, "a.dat,class1\nb.dat,class2\nc.dat,class1\n", map[string]string{
		"a.dat": "0,1\n1,2\n2,3\n",
		"b.dat": "0,10\n1,12\n2,14\n",
		"c.dat": "0,1.5\n1,2.5\n2,3.5\n",
	})

	var featureset api.CreateFeaturesetResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/features", api.CreateFeaturesetRequest{
		Name:      "basic",
		ProjectId: project.ProjectId,
		DatasetId: dataset.DatasetId,
		Features:  []string{"mean", "std", "amplitude"},
	}, &featureset))

	waitForJob(t, func() (string, string) {
		var f api.Featureset
		require.NoError(t, httpRequest(router, http.MethodGet, "/features/"+featureset.FeaturesetId.String(), nil, &f))
		return f.Status, f.Error
	})

	var model api.TrainModelResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/models", api.TrainModelRequest{
		Name:         "centroid",
		ProjectId:    project.ProjectId,
		FeaturesetId: featureset.FeaturesetId,
		Type:         "nearest_centroid",
	}, &model))

	waitForJob(t, func() (string, string) {
		var m api.Model
		require.NoError(t, httpRequest(router, http.MethodGet, "/models/"+model.ModelId.String(), nil, &m))
		return m.Status, m.Error
	})

	var trainedModel api.Model
	require.NoError(t, httpRequest(router, http.MethodGet, "/models/"+model.ModelId.String(), nil, &trainedModel))
	require.NotNil(t, trainedModel.TrainScore)
	assert.Equal(t, 1.0, *trainedModel.TrainScore)

	var prediction api.CreatePredictionResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/predictions", api.CreatePredictionRequest{
		DatasetId: dataset.DatasetId,
		ModelId:   model.ModelId,
	}, &prediction))

	waitForJob(t, func() (string, string) {
		var p api.Prediction
		require.NoError(t, httpRequest(router, http.MethodGet, "/predictions/"+prediction.PredictionId.String(), nil, &p))
		return p.Status, p.Error
	})

	req := httptest.NewRequest(http.MethodGet, "/predictions/"+prediction.PredictionId.String()+"/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "cesium_prediction_results.csv")

	csv := rec.Body.String()
	assert.Contains(t, csv, "ts_name,label,prediction")
	assert.Contains(t, csv, "a.dat,class1,class1")
	assert.Contains(t, csv, "b.dat,class2,class2")
	assert.Contains(t, csv, "c.dat,class1,class1")

	var notifications []api.Notification
	require.NoError(t, httpRequest(router, http.MethodGet, "/notifications", nil, &notifications))
	assert.Len(t, notifications, 3)
}
