// Package notify pushes job lifecycle notifications to the front end. The
// durable copy of every notification lives in the database; this push is
// only a hint so the UI can refresh without polling.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Kind values are the database.NotificationInfo/NotificationError constants;
// the pushed payload mirrors the persisted row.
type Notification struct {
	Username string
	Note     string
	Kind     string
}

type Notifier interface {
	Push(ctx context.Context, notification Notification)
}

// WebhookNotifier posts notifications to the front end server, which relays
// them to connected browsers over its websocket.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

var _ Notifier = &WebhookNotifier{}

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Push(ctx context.Context, notification Notification) {
	res, err := n.client.R().
		SetContext(ctx).
		SetBody(notification).
		Post(n.url)
	if err != nil {
		slog.Error("error pushing notification", "username", notification.Username, "error", err)
		return
	}
	if res.IsError() {
		slog.Error("notification webhook returned error", "username", notification.Username, "status", res.StatusCode())
	}
}

// NoopNotifier is used when no webhook is configured and in tests.
type NoopNotifier struct{}

var _ Notifier = NoopNotifier{}

func (NoopNotifier) Push(ctx context.Context, notification Notification) {}
