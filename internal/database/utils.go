package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func terminalUpdates(status string) map[string]any {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
		updates["task_id"] = nil
	}
	return updates
}

func UpdateFeaturesetStatus(ctx context.Context, txn *gorm.DB, featuresetId uuid.UUID, status string) error {
	if err := txn.WithContext(ctx).Model(&Featureset{Id: featuresetId}).Updates(terminalUpdates(status)).Error; err != nil {
		slog.Error("error updating featureset status", "featureset_id", featuresetId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdateModelStatus(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, status string) error {
	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Updates(terminalUpdates(status)).Error; err != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", err)
		return err
	}
	return nil
}

func UpdatePredictionStatus(ctx context.Context, txn *gorm.DB, predictionId uuid.UUID, status string) error {
	if err := txn.WithContext(ctx).Model(&Prediction{Id: predictionId}).Updates(terminalUpdates(status)).Error; err != nil {
		slog.Error("error updating prediction status", "prediction_id", predictionId, "status", status, "error", err)
		return err
	}
	return nil
}

func MarkFeaturesetFailed(ctx context.Context, txn *gorm.DB, featuresetId uuid.UUID, errorMessage string) error {
	updates := terminalUpdates(JobFailed)
	updates["error"] = errorMessage

	if err := txn.WithContext(ctx).Model(&Featureset{Id: featuresetId}).Updates(updates).Error; err != nil {
		slog.Error("error marking featureset failed", "featureset_id", featuresetId, "error", err)
		return err
	}
	return nil
}

func MarkModelFailed(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, errorMessage string) error {
	updates := terminalUpdates(JobFailed)
	updates["error"] = errorMessage

	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Updates(updates).Error; err != nil {
		slog.Error("error marking model failed", "model_id", modelId, "error", err)
		return err
	}
	return nil
}

func MarkPredictionFailed(ctx context.Context, txn *gorm.DB, predictionId uuid.UUID, errorMessage string) error {
	updates := terminalUpdates(JobFailed)
	updates["error"] = errorMessage

	if err := txn.WithContext(ctx).Model(&Prediction{Id: predictionId}).Updates(updates).Error; err != nil {
		slog.Error("error marking prediction failed", "prediction_id", predictionId, "error", err)
		return err
	}
	return nil
}

func SetModelTrainScore(ctx context.Context, txn *gorm.DB, modelId uuid.UUID, score float64) error {
	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Update("train_score", score).Error; err != nil {
		slog.Error("error setting model train score", "model_id", modelId, "error", err)
		return err
	}
	return nil
}

func SaveNotification(ctx context.Context, txn *gorm.DB, username, note, kind string) {
	notification := Notification{
		Id:           uuid.New(),
		Username:     username,
		Note:         note,
		Kind:         kind,
		CreationTime: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&notification).Error; err != nil {
		slog.Error("error saving notification", "username", username, "error", err)
	}
}
