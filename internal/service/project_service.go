package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/store"
)

const (
	TaskTypePipelineRun  = "pipeline:run"
	TaskTypeRetryScene   = "pipeline:retry_scene"
	QueuePipeline        = "pipeline"
	pipelineTaskDeadline = 6 * time.Hour
)

// TaskEnqueuer is satisfied by *asynq.Client
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RunLocker is satisfied by *store.Locker. The token of a queued run is
// its asynq task id.
type RunLocker interface {
	Acquire(ctx context.Context, projectID, token string) (bool, error)
	Release(ctx context.Context, projectID, token string) error
	Held(ctx context.Context, projectID string) (bool, error)
}

// ProjectService handles project management for the API
type ProjectService struct {
	store       store.ProjectStore
	locker      RunLocker
	queue       TaskEnqueuer
	pipeline    *Pipeline
	credentials CredentialProvider
	storage     client.StorageClient
	signedTTL   time.Duration
	log         *logger.Logger
}

func NewProjectService(
	projectStore store.ProjectStore,
	locker RunLocker,
	queue TaskEnqueuer,
	pipeline *Pipeline,
	credentials CredentialProvider,
	storage client.StorageClient,
	signedTTL time.Duration,
	log *logger.Logger,
) *ProjectService {
	if log == nil {
		log = logger.Nop()
	}
	if signedTTL <= 0 {
		signedTTL = time.Hour
	}
	return &ProjectService{
		store:       projectStore,
		locker:      locker,
		queue:       queue,
		pipeline:    pipeline,
		credentials: credentials,
		storage:     storage,
		signedTTL:   signedTTL,
		log:         log,
	}
}

// Create stores a new idle project with the given script and settings
func (s *ProjectService) Create(ctx context.Context, ownerID string, req *model.CreateProjectRequest) (*model.Project, error) {
	cfg := model.DefaultProjectConfig()
	if req.Duration != "" {
		cfg.Duration = model.FormatDuration(req.Duration)
	}
	if req.Mode != "" {
		cfg.Mode = req.Mode
	}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}
	cfg.ReferenceImage = req.ReferenceImage

	now := time.Now()
	p := &model.Project{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Script:    req.Script,
		Config:    cfg,
		Scenes:    []model.Scene{},
		Phase:     model.PhaseIdle,
		Cursor:    model.NoCursor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// Get returns the caller's project. A busy project without a live run is
// recovered to idle before it is returned.
func (s *ProjectService) Get(ctx context.Context, ownerID, projectID string) (*model.Project, error) {
	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, store.ErrProjectNotFound
	}

	if p.IsBusy() {
		held, err := s.locker.Held(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to check run lock: %w", err)
		}
		if !held && p.RecoverInterrupted() {
			s.log.Warn("recovered interrupted run", "project", p.ID)
			if err := s.store.Save(ctx, p); err != nil {
				return nil, fmt.Errorf("failed to save recovered project: %w", err)
			}
		}
	}
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, ownerID string) ([]*model.Project, error) {
	projects, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	return projects, nil
}

// UpdateScript replaces the script text while no run is active
func (s *ProjectService) UpdateScript(ctx context.Context, ownerID, projectID string, req *model.UpdateScriptRequest) (*model.Project, error) {
	p, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if p.IsBusy() {
		return nil, ErrPipelineBusy
	}
	p.Script = req.Script
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return p, nil
}

// UpdateConfig changes duration, mode, aspect ratio or reference image.
// Refused once scenes exist.
func (s *ProjectService) UpdateConfig(ctx context.Context, ownerID, projectID string, req *model.UpdateConfigRequest) (*model.Project, error) {
	p, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if p.IsBusy() {
		return nil, ErrPipelineBusy
	}
	if p.ConfigLocked() {
		return nil, ErrConfigLocked
	}

	if req.Duration != nil {
		p.Config.Duration = model.FormatDuration(*req.Duration)
	}
	if req.Mode != nil {
		p.Config.Mode = *req.Mode
	}
	if req.AspectRatio != nil {
		p.Config.AspectRatio = *req.AspectRatio
	}
	if req.ReferenceImage != nil {
		p.Config.ReferenceImage = *req.ReferenceImage
	}

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	return p, nil
}

// StartRun queues a start or resume of the pipeline
func (s *ProjectService) StartRun(ctx context.Context, ownerID, projectID string) (*model.RunResponse, error) {
	p, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Script) == "" {
		return nil, ErrEmptyScript
	}
	if err := s.requireCredential(ctx, ownerID); err != nil {
		return nil, err
	}

	payload := &model.PipelineTaskPayload{ProjectID: p.ID, OwnerID: ownerID}
	if err := s.enqueue(ctx, TaskTypePipelineRun, payload); err != nil {
		return nil, err
	}

	return &model.RunResponse{
		ProjectID: p.ID,
		Phase:     p.Phase,
		QueuedAt:  time.Now(),
	}, nil
}

// RetryScene queues regeneration of a single scene
func (s *ProjectService) RetryScene(ctx context.Context, ownerID, projectID string, index int) (*model.RunResponse, error) {
	p, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(p.Scenes) {
		return nil, ErrSceneIndexOutOfRange
	}
	if p.Scenes[index].Status != model.SceneStatusFailed {
		return nil, ErrSceneNotRetryable
	}
	if err := s.requireCredential(ctx, ownerID); err != nil {
		return nil, err
	}

	payload := &model.PipelineTaskPayload{ProjectID: p.ID, OwnerID: ownerID, SceneIndex: &index}
	if err := s.enqueue(ctx, TaskTypeRetryScene, payload); err != nil {
		return nil, err
	}

	return &model.RunResponse{
		ProjectID:  p.ID,
		Phase:      p.Phase,
		SceneIndex: &index,
		QueuedAt:   time.Now(),
	}, nil
}

// Reset clears all scenes. It runs inline under the run lock.
func (s *ProjectService) Reset(ctx context.Context, ownerID, projectID string, confirm bool) (*model.Project, error) {
	if !confirm {
		return nil, ErrConfirmationRequired
	}
	if _, err := s.Get(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	token := uuid.New().String()
	acquired, err := s.locker.Acquire(ctx, projectID, token)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrPipelineBusy
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), projectID, token); err != nil {
			s.log.Error("failed to release run lock", "project", projectID, "error", err)
		}
	}()

	if err := s.pipeline.Reset(ctx, projectID, true); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, projectID)
}

// MediaURL returns a playable URL for a stored clip
func (s *ProjectService) MediaURL(ctx context.Context, ownerID, projectID string, index int) (string, error) {
	p, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(p.Scenes) {
		return "", ErrSceneIndexOutOfRange
	}
	handle := p.Scenes[index].LocalMediaHandle
	if handle == "" {
		return "", ErrMediaNotReady
	}
	return s.storage.GetSignedURL(ctx, handle, s.signedTTL)
}

func (s *ProjectService) requireCredential(ctx context.Context, ownerID string) error {
	ok, err := s.credentials.HasCredential(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to check credential: %w", err)
	}
	if !ok {
		return ErrCredentialRequired
	}
	return nil
}

// enqueue takes the run lock for a new task id and queues the task under
// that id; the worker releases the lock when the task ends.
func (s *ProjectService) enqueue(ctx context.Context, taskType string, payload *model.PipelineTaskPayload) error {
	taskID := uuid.New().String()
	acquired, err := s.locker.Acquire(ctx, payload.ProjectID, taskID)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrPipelineBusy
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.releaseAfterFailure(ctx, payload.ProjectID, taskID)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.queue.Enqueue(asynq.NewTask(taskType, data),
		asynq.TaskID(taskID),
		asynq.Queue(QueuePipeline),
		asynq.MaxRetry(0),
		asynq.Timeout(pipelineTaskDeadline),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.releaseAfterFailure(ctx, payload.ProjectID, taskID)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.log.Info("pipeline task queued", "type", taskType, "project", payload.ProjectID, "task", taskID)
	return nil
}

func (s *ProjectService) releaseAfterFailure(ctx context.Context, projectID, token string) {
	if err := s.locker.Release(context.WithoutCancel(ctx), projectID, token); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("failed to release run lock", "project", projectID, "error", err)
	}
}
