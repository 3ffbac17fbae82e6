package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/skalegrid/agentq/internal/port/notifier"
	"github.com/skalegrid/agentq/internal/service"
)

func TestNotify_FanOutContinuesPastFailures(t *testing.T) {
	healthy := &mockNotifier{}
	broken := &mockNotifier{err: errors.New("webhook gone")}
	also := &mockNotifier{}
	svc := service.NewNotificationService(discardLogger(), []notifier.Notifier{healthy, broken, also})

	svc.Notify(context.Background(), notifier.Notification{Title: "Task completed", Level: "success"})

	if got := len(healthy.sentNotifications()); got != 1 {
		t.Errorf("healthy notifier received %d, want 1", got)
	}
	if got := len(also.sentNotifications()); got != 1 {
		t.Errorf("second healthy notifier received %d, want 1", got)
	}
}

func TestNotifierCount(t *testing.T) {
	svc := service.NewNotificationService(discardLogger(), nil)
	if svc.NotifierCount() != 0 {
		t.Errorf("count = %d, want 0", svc.NotifierCount())
	}
	svc = service.NewNotificationService(discardLogger(), []notifier.Notifier{&mockNotifier{}})
	if svc.NotifierCount() != 1 {
		t.Errorf("count = %d, want 1", svc.NotifierCount())
	}
}
