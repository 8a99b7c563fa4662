package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScriptAnalyzer turns a script into pending scenes
type ScriptAnalyzer interface {
	Analyze(ctx context.Context, script string, sceneCount int) ([]model.Scene, error)
}

// SceneVideoGenerator renders one scene
type SceneVideoGenerator interface {
	Generate(ctx context.Context, req SceneRequest) (*SceneOutput, error)
}

// Notifier pushes pipeline events to subscribers of a project
type Notifier interface {
	BroadcastProgress(projectID string, progress int, phase model.Phase, cursor int, step string)
	BroadcastScene(projectID string, index int, scene model.Scene)
	BroadcastComplete(projectID string, result interface{})
	BroadcastError(projectID string, code, message string)
}

// Pipeline runs the sequenced generation state machine for one project at a
// time. Callers serialize runs per project (see store.Locker).
type Pipeline struct {
	store       store.ProjectStore
	analyzer    ScriptAnalyzer
	generator   SceneVideoGenerator
	storage     client.StorageClient
	credentials CredentialProvider
	notifier    Notifier
	log         *logger.Logger
}

func NewPipeline(
	projectStore store.ProjectStore,
	analyzer ScriptAnalyzer,
	generator SceneVideoGenerator,
	storage client.StorageClient,
	credentials CredentialProvider,
	notifier Notifier,
	log *logger.Logger,
) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		store:       projectStore,
		analyzer:    analyzer,
		generator:   generator,
		storage:     storage,
		credentials: credentials,
		notifier:    notifier,
		log:         log,
	}
}

// Run starts or resumes generation. Scenes already completed with a stored
// clip are skipped; the first failure stops the run with the project idle
// and the failure recorded in the banner.
func (s *Pipeline) Run(ctx context.Context, projectID string) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("project.id", projectID)))
	defer endSpan(span, &err)

	p, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	if p.IsBusy() {
		return ErrPipelineBusy
	}
	if strings.TrimSpace(p.Script) == "" {
		return ErrEmptyScript
	}
	ctx, err = s.authorize(ctx, p.OwnerID)
	if err != nil {
		return err
	}

	p.Banner = nil
	if len(p.Scenes) == 0 {
		p.Phase = model.PhaseAnalyzingScript
		p.Cursor = model.NoCursor
		if err := s.persist(ctx, p, "analyzing script"); err != nil {
			return err
		}

		scenes, err := s.analyzer.Analyze(ctx, p.Script, p.TargetSceneCount())
		if err != nil {
			return s.fail(ctx, p, model.NoCursor, err)
		}
		p.Scenes = scenes
		s.log.Info("script analyzed", "project", p.ID, "scenes", len(scenes))
	}

	p.Phase = model.PhaseGeneratingVideos
	if err := s.persist(ctx, p, "generating videos"); err != nil {
		return err
	}

	for i := range p.Scenes {
		if p.Scenes[i].IsReady() {
			continue
		}
		if err := s.generateScene(ctx, p, i); err != nil {
			return err
		}
	}

	p.Phase = model.PhaseCompleted
	p.Cursor = model.NoCursor
	if err := s.persist(ctx, p, "completed"); err != nil {
		return err
	}
	s.notify(func(n Notifier) { n.BroadcastComplete(p.ID, model.NewProjectResponse(p)) })
	s.log.Info("pipeline completed", "project", p.ID, "scenes", len(p.Scenes))
	return nil
}

// RetryScene regenerates exactly one failed scene with its stored text.
// Other scenes are left as they are.
func (s *Pipeline) RetryScene(ctx context.Context, projectID string, index int) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.retry_scene", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Int("scene.index", index),
	))
	defer endSpan(span, &err)

	p, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	if p.IsBusy() {
		return ErrPipelineBusy
	}
	if index < 0 || index >= len(p.Scenes) {
		return ErrSceneIndexOutOfRange
	}
	if p.Scenes[index].Status != model.SceneStatusFailed {
		return ErrSceneNotRetryable
	}
	ctx, err = s.authorize(ctx, p.OwnerID)
	if err != nil {
		return err
	}

	p.Banner = nil
	p.Phase = model.PhaseGeneratingVideos
	if err := s.persist(ctx, p, fmt.Sprintf("retrying scene %d", index+1)); err != nil {
		return err
	}

	if err := s.generateScene(ctx, p, index); err != nil {
		return err
	}

	p.Phase = model.PhaseIdle
	p.Cursor = model.NoCursor
	return s.persist(ctx, p, "scene regenerated")
}

// Reset discards all scenes and their stored clips. The configuration
// becomes editable again.
func (s *Pipeline) Reset(ctx context.Context, projectID string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}

	p, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	if p.IsBusy() {
		return ErrPipelineBusy
	}

	for i := range p.Scenes {
		handle := p.Scenes[i].LocalMediaHandle
		if handle == "" {
			continue
		}
		if err := s.storage.Delete(ctx, handle); err != nil {
			s.log.Warn("failed to delete clip", "project", p.ID, "key", handle, "error", err)
		}
	}

	p.Scenes = nil
	p.Banner = nil
	p.Cursor = model.NoCursor
	p.Phase = model.PhaseIdle
	return s.persist(ctx, p, "reset")
}

// load fetches the project. A busy phase here means the run that set it is
// gone, because callers hold the run lock, so it is recovered first.
func (s *Pipeline) load(ctx context.Context, projectID string) (*model.Project, error) {
	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.RecoverInterrupted() {
		s.log.Warn("recovered interrupted run", "project", p.ID)
		if err := s.store.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save recovered project: %w", err)
		}
	}
	return p, nil
}

func (s *Pipeline) authorize(ctx context.Context, ownerID string) (context.Context, error) {
	ok, err := s.credentials.HasCredential(ctx, ownerID)
	if err != nil {
		return ctx, fmt.Errorf("failed to check credential: %w", err)
	}
	if !ok {
		return ctx, ErrCredentialRequired
	}
	apiKey, err := s.credentials.Resolve(ctx, ownerID)
	if err != nil {
		return ctx, fmt.Errorf("failed to resolve credential: %w", err)
	}
	return client.WithAPIKey(ctx, apiKey), nil
}

func (s *Pipeline) generateScene(ctx context.Context, p *model.Project, index int) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.scene", trace.WithAttributes(
		attribute.String("project.id", p.ID),
		attribute.Int("scene.index", index),
	))
	defer endSpan(span, &err)

	scene := &p.Scenes[index]
	scene.Status = model.SceneStatusGenerating
	scene.Error = ""
	touch(scene)
	p.Cursor = index
	if err := s.persist(ctx, p, fmt.Sprintf("generating scene %d of %d", index+1, len(p.Scenes))); err != nil {
		return err
	}
	s.notify(func(n Notifier) { n.BroadcastScene(p.ID, index, *scene) })

	var previous *model.Scene
	if index > 0 {
		previous = &p.Scenes[index-1]
	}
	referenceImage := ""
	if index == 0 {
		referenceImage = p.Config.ReferenceImage
	}

	out, err := s.generator.Generate(ctx, SceneRequest{
		ProjectID:      p.ID,
		Scene:          *scene,
		Previous:       previous,
		Mode:           p.Config.Mode,
		AspectRatio:    p.Config.AspectRatio,
		ReferenceImage: referenceImage,
		Sequenced:      p.Sequenced(),
	})
	if err != nil {
		return s.fail(ctx, p, index, err)
	}

	result := out.Result
	scene.Status = model.SceneStatusCompleted
	scene.MediaURI = result.RemoteURI
	scene.LocalMediaHandle = out.LocalMediaHandle
	scene.MediaURL = out.MediaURL
	scene.Generation = &result
	touch(scene)
	if err := s.persist(ctx, p, fmt.Sprintf("scene %d of %d completed", index+1, len(p.Scenes))); err != nil {
		return err
	}
	s.notify(func(n Notifier) { n.BroadcastScene(p.ID, index, *scene) })
	return nil
}

// fail records a failed step. Cancellation of ctx (shutdown) is not a
// failure: the scene goes back to pending so the next run regenerates it.
func (s *Pipeline) fail(ctx context.Context, p *model.Project, index int, cause error) error {
	saveCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		if index >= 0 {
			p.Scenes[index].Status = model.SceneStatusPending
			touch(&p.Scenes[index])
		}
		p.Phase = model.PhaseIdle
		p.Cursor = model.NoCursor
		if err := s.persist(saveCtx, p, "interrupted"); err != nil {
			s.log.Error("failed to save interrupted project", "project", p.ID, "error", err)
		}
		return ctx.Err()
	}

	if index >= 0 {
		p.Scenes[index].Status = model.SceneStatusFailed
		p.Scenes[index].Error = cause.Error()
		touch(&p.Scenes[index])
	}
	p.Phase = model.PhaseIdle
	p.Cursor = model.NoCursor
	p.Banner = model.BannerFor(cause)

	if errors.Is(cause, model.ErrAuth) {
		if err := s.credentials.Invalidate(saveCtx, p.OwnerID); err != nil {
			s.log.Error("failed to invalidate credential", "owner", p.OwnerID, "error", err)
		}
	}

	s.log.Warn("pipeline step failed",
		"project", p.ID,
		"scene", index,
		"code", p.Banner.Code,
		"error", cause,
	)

	if err := s.persist(saveCtx, p, "failed"); err != nil {
		s.log.Error("failed to save failed project", "project", p.ID, "error", err)
	}
	if index >= 0 {
		scene := p.Scenes[index]
		s.notify(func(n Notifier) { n.BroadcastScene(p.ID, index, scene) })
	}
	s.notify(func(n Notifier) { n.BroadcastError(p.ID, p.Banner.Code, p.Banner.Message) })
	return cause
}

// persist saves the project and announces the new phase and cursor
func (s *Pipeline) persist(ctx context.Context, p *model.Project, step string) error {
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	s.notify(func(n Notifier) { n.BroadcastProgress(p.ID, p.Progress(), p.Phase, p.Cursor, step) })
	return nil
}

func (s *Pipeline) notify(fn func(Notifier)) {
	if s.notifier != nil {
		fn(s.notifier)
	}
}

func touch(scene *model.Scene) {
	now := time.Now()
	scene.UpdatedAt = &now
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
