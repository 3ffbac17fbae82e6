package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalegrid/agentq/internal/domain/agent"
	"github.com/skalegrid/agentq/internal/service"
)

func newTestClassifier(completer *mockCompleter, c *mockCache) *service.Classifier {
	return service.NewClassifier(completer, c, testMetrics(), discardLogger(), "classifier-model", time.Hour)
}

func TestClassify_CachesVerdictByContent(t *testing.T) {
	completer := &mockCompleter{script: []completion{{Response: longVerdict}}}
	classifier := newTestClassifier(completer, newMockCache())
	a := &agent.Agent{ID: "agent-1", Name: "Atlas"}

	first := pendingTask("task-1")
	verdict, err := classifier.Classify(context.Background(), &first, a)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !verdict.IsLongRunning || verdict.EstimatedDurationSeconds != 1800 {
		t.Errorf("verdict = %+v", verdict)
	}

	// A second task with identical content reuses the cached verdict.
	duplicate := pendingTask("task-2")
	verdict, err = classifier.Classify(context.Background(), &duplicate, a)
	if err != nil {
		t.Fatalf("Classify cached: %v", err)
	}
	if !verdict.IsLongRunning {
		t.Errorf("cached verdict = %+v", verdict)
	}
	if completer.callCount() != 1 {
		t.Errorf("ai calls = %d, want 1 (second call served from cache)", completer.callCount())
	}

	// Different content misses the cache.
	other := pendingTask("task-3")
	other.Title = "Completely different work"
	completer.script = []completion{{Response: shortVerdict}}
	if _, err := classifier.Classify(context.Background(), &other, a); err != nil {
		t.Fatalf("Classify other: %v", err)
	}
	if completer.callCount() != 2 {
		t.Errorf("ai calls = %d, want 2", completer.callCount())
	}
}

func TestClassify_TransportErrorPropagates(t *testing.T) {
	wantErr := errors.New("gateway timeout")
	completer := &mockCompleter{script: []completion{{Err: wantErr}}}
	classifier := newTestClassifier(completer, newMockCache())

	tk := pendingTask("task-1")
	if _, err := classifier.Classify(context.Background(), &tk, &agent.Agent{Name: "Atlas"}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
}

func TestClassify_MalformedResponseDefaultsShortRunning(t *testing.T) {
	completer := &mockCompleter{script: []completion{{Response: "I think it depends."}}}
	classifier := newTestClassifier(completer, newMockCache())

	tk := pendingTask("task-1")
	verdict, err := classifier.Classify(context.Background(), &tk, &agent.Agent{Name: "Atlas"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.IsLongRunning {
		t.Error("malformed verdict must default to short-running")
	}
}

func TestClassify_WorksWithoutCache(t *testing.T) {
	completer := &mockCompleter{script: []completion{{Response: shortVerdict}}}
	classifier := service.NewClassifier(completer, nil, testMetrics(), discardLogger(), "classifier-model", time.Hour)

	tk := pendingTask("task-1")
	if _, err := classifier.Classify(context.Background(), &tk, &agent.Agent{Name: "Atlas"}); err != nil {
		t.Fatalf("Classify: %v", err)
	}
}
