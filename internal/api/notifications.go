package api

import (
	"errors"
	"log/slog"
	"net/http"

	"cesium-backend/internal/database"
	"cesium-backend/pkg/api"

	"gorm.io/gorm"
)

type listNotificationsParams struct {
	// When true, notifications the user has already read are included.
	IncludeRead bool `schema:"include_read"`
}

func (s *BackendService) ListNotifications(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listNotificationsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Where("username = ?", RequestUser(r))
	if !params.IncludeRead {
		query = query.Where("read = ?", false)
	}

	var notifications []database.Notification
	if err := query.Order("creation_time").Find(&notifications).Error; err != nil {
		slog.Error("error listing notifications", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving notifications")
	}

	out := make([]api.Notification, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, convertNotification(n))
	}
	return out, nil
}

func (s *BackendService) getOwnedNotification(r *http.Request) (database.Notification, error) {
	notificationId, err := URLParamUUID(r, "notification_id")
	if err != nil {
		return database.Notification{}, err
	}

	var notification database.Notification
	err = s.db.WithContext(r.Context()).First(&notification, "id = ?", notificationId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notification, CodedErrorf(http.StatusNotFound, "notification not found")
		}
		slog.Error("error getting notification", "notification_id", notificationId, "error", err)
		return notification, CodedErrorf(http.StatusInternalServerError, "error retrieving notification record")
	}

	if notification.Username != RequestUser(r) {
		return notification, CodedErrorf(http.StatusNotFound, "notification not found")
	}

	return notification, nil
}

func (s *BackendService) MarkNotificationRead(r *http.Request) (any, error) {
	notification, err := s.getOwnedNotification(r)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(r.Context()).Model(&notification).Update("read", true).Error; err != nil {
		slog.Error("error marking notification read", "notification_id", notification.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update notification")
	}

	return nil, nil
}

func (s *BackendService) DeleteNotification(r *http.Request) (any, error) {
	notification, err := s.getOwnedNotification(r)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(r.Context()).Delete(&notification).Error; err != nil {
		slog.Error("error deleting notification", "notification_id", notification.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete notification")
	}

	return nil, nil
}
