package api

import (
	"fmt"

	"github.com/google/uuid"
)

// Object store layout. Records keep their artifact key so the worker and the
// download endpoints never have to recompute these.

func datasetPrefix(datasetId uuid.UUID) string {
	return fmt.Sprintf("datasets/%s/", datasetId)
}

func datasetFileKey(datasetId, fileId uuid.UUID) string {
	return fmt.Sprintf("datasets/%s/%s.csv", datasetId, fileId)
}

func featuresetKey(featuresetId uuid.UUID) string {
	return fmt.Sprintf("featuresets/%s.csv", featuresetId)
}

func modelKey(modelId uuid.UUID) string {
	return fmt.Sprintf("models/%s.json", modelId)
}

func predictionKey(predictionId uuid.UUID) string {
	return fmt.Sprintf("predictions/%s.csv", predictionId)
}
