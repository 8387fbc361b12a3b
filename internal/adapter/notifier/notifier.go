// Package notifier provides the notification collaborator consumed by the
// notify handlers.
package notifier

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// LogDispatcher implements domain.NotificationDispatcher by writing
// structured log records. It is the delivery channel for deployments
// without a mail or push provider configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

var _ domain.NotificationDispatcher = (*LogDispatcher)(nil)

func (d *LogDispatcher) Send(ctx context.Context, userID uuid.UUID, templateID string, payload map[string]string) error {
	attrs := []any{
		slog.String("user_id", userID.String()),
		slog.String("template_id", templateID),
	}
	for k, v := range payload {
		attrs = append(attrs, slog.String(k, v))
	}

	d.logger.InfoContext(ctx, "notification dispatched", attrs...)
	return nil
}
