// Package service contains the task orchestration application services.
package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/skalegrid/agentq/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	log       *slog.Logger
	notifiers []notifier.Notifier
}

// NewNotificationService creates a NotificationService with the given notifiers.
func NewNotificationService(log *slog.Logger, notifiers []notifier.Notifier) *NotificationService {
	return &NotificationService{
		log:       log,
		notifiers: notifiers,
	}
}

// Notify sends a notification to all registered notifiers concurrently.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	g, ctx := errgroup.WithContext(ctx)
	for _, provider := range s.notifiers {
		g.Go(func() error {
			if err := provider.Send(ctx, n); err != nil {
				s.log.Warn("notification send failed",
					"provider", provider.Name(),
					"title", n.Title,
					"error", err,
				)
				return nil
			}
			s.log.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
			return nil
		})
	}
	_ = g.Wait()
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
