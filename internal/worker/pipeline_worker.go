package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/internal/store"
)

// PipelineRunner is satisfied by *service.Pipeline
type PipelineRunner interface {
	Run(ctx context.Context, projectID string) error
	RetryScene(ctx context.Context, projectID string, index int) error
}

// RunLock is satisfied by *store.Locker
type RunLock interface {
	Acquire(ctx context.Context, projectID, token string) (bool, error)
	Refresh(ctx context.Context, projectID, token string) error
	Release(ctx context.Context, projectID, token string) error
	Owner(ctx context.Context, projectID string) (string, error)
}

// PipelineWorker processes pipeline run and scene retry tasks
type PipelineWorker struct {
	pipeline     PipelineRunner
	locker       RunLock
	refreshEvery time.Duration
	log          *logger.Logger
}

// NewPipelineWorker creates a worker. The run lock is refreshed three times
// per lockTTL while a task is running.
func NewPipelineWorker(pipeline PipelineRunner, locker RunLock, lockTTL time.Duration, log *logger.Logger) *PipelineWorker {
	if log == nil {
		log = logger.Nop()
	}
	refresh := lockTTL / 3
	if refresh <= 0 {
		refresh = 10 * time.Minute
	}
	return &PipelineWorker{
		pipeline:     pipeline,
		locker:       locker,
		refreshEvery: refresh,
		log:          log,
	}
}

// Register adds the worker's handlers to mux
func (w *PipelineWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypePipelineRun, w.ProcessRun)
	mux.HandleFunc(service.TaskTypeRetryScene, w.ProcessRetryScene)
}

// ProcessRun starts or resumes a project's pipeline
func (w *PipelineWorker) ProcessRun(ctx context.Context, t *asynq.Task) error {
	return w.process(ctx, t, func(ctx context.Context, payload *model.PipelineTaskPayload) error {
		return w.pipeline.Run(ctx, payload.ProjectID)
	})
}

// ProcessRetryScene regenerates one scene
func (w *PipelineWorker) ProcessRetryScene(ctx context.Context, t *asynq.Task) error {
	return w.process(ctx, t, func(ctx context.Context, payload *model.PipelineTaskPayload) error {
		if payload.SceneIndex == nil {
			return fmt.Errorf("retry task without scene index: %w", asynq.SkipRetry)
		}
		return w.pipeline.RetryScene(ctx, payload.ProjectID, *payload.SceneIndex)
	})
}

func (w *PipelineWorker) process(ctx context.Context, t *asynq.Task, fn func(context.Context, *model.PipelineTaskPayload) error) error {
	var payload model.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	taskID, ok := asynq.GetTaskID(ctx)
	if !ok || taskID == "" {
		taskID = uuid.New().String()
	}
	log := w.log.With("task", taskID, "type", t.Type(), "project", payload.ProjectID)

	claimed, err := w.claim(ctx, payload.ProjectID, taskID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Warn("run lock held by another task, skipping")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.keepAlive(runCtx, cancel, payload.ProjectID, taskID, log)
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), payload.ProjectID, taskID); err != nil {
			log.Error("failed to release run lock", "error", err)
		}
	}()

	log.Info("pipeline task started")
	start := time.Now()
	err = fn(runCtx, &payload)

	switch {
	case err == nil:
		log.Info("pipeline task finished", "elapsed", time.Since(start))
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("pipeline task interrupted", "error", err)
		return err
	case errors.Is(err, asynq.SkipRetry):
		return err
	}

	// Pipeline failures are recorded on the project and resumed by the user.
	log.Warn("pipeline task failed", "code", model.ErrorCode(err), "error", err)
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// claim confirms that taskID owns the project's run lock. A free lock (the
// task was requeued after a restart) is taken over; a lock held by another
// task means this one was superseded.
func (w *PipelineWorker) claim(ctx context.Context, projectID, taskID string) (bool, error) {
	owner, err := w.locker.Owner(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to read run lock: %w", err)
	}
	switch owner {
	case taskID:
		return true, nil
	case "":
		return w.locker.Acquire(ctx, projectID, taskID)
	}
	return false, nil
}

func (w *PipelineWorker) keepAlive(ctx context.Context, cancel context.CancelFunc, projectID, taskID string, log *logger.Logger) {
	ticker := time.NewTicker(w.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.locker.Refresh(ctx, projectID, taskID)
			if errors.Is(err, store.ErrLockLost) {
				log.Error("run lock lost, stopping pipeline")
				cancel()
				return
			}
			if err != nil {
				log.Warn("failed to refresh run lock", "error", err)
			}
		}
	}
}
