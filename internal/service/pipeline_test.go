package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/store"
)

type pipelineFixture struct {
	store       *store.MemoryStore
	analyzer    *fakeAnalyzer
	generator   *fakeGenerator
	storage     *memoryStorage
	credentials *fakeCredentials
	notifier    *recordingNotifier
	pipeline    *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:       store.NewMemoryStore(),
		analyzer:    &fakeAnalyzer{},
		generator:   &fakeGenerator{failures: map[string]error{}},
		storage:     newMemoryStorage(),
		credentials: &fakeCredentials{has: true, key: "user-key"},
		notifier:    &recordingNotifier{},
	}
	f.pipeline = NewPipeline(f.store, f.analyzer, f.generator, f.storage, f.credentials, f.notifier, nil)
	return f
}

func (f *pipelineFixture) createProject(t *testing.T, duration string) *model.Project {
	t.Helper()
	cfg := model.DefaultProjectConfig()
	cfg.Duration = duration
	cfg.ReferenceImage = "data:image/png;base64,UkVG"
	p := &model.Project{
		ID:        "p1",
		OwnerID:   "owner-1",
		Script:    "A lighthouse keeper climbs to the lamp at dawn.",
		Config:    cfg,
		Phase:     model.PhaseIdle,
		Cursor:    model.NoCursor,
		CreatedAt: time.Now(),
	}
	if err := f.store.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func (f *pipelineFixture) project(t *testing.T) *model.Project {
	t.Helper()
	p, err := f.store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return p
}

func statuses(p *model.Project) []model.SceneStatus {
	out := make([]model.SceneStatus, len(p.Scenes))
	for i := range p.Scenes {
		out[i] = p.Scenes[i].Status
	}
	return out
}

func TestRun_SixteenSecondsProducesChainedPair(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if f.analyzer.gotCount != 2 {
		t.Errorf("analyzer asked for %d scenes, want 2", f.analyzer.gotCount)
	}
	p := f.project(t)
	if p.Phase != model.PhaseCompleted || p.Cursor != model.NoCursor {
		t.Errorf("phase=%s cursor=%d, want COMPLETED/-1", p.Phase, p.Cursor)
	}
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusCompleted}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	for i := range p.Scenes {
		if !p.Scenes[i].IsReady() {
			t.Errorf("scene %d has no stored clip", i)
		}
	}

	reqs := f.generator.requests
	if len(reqs) != 2 {
		t.Fatalf("generator called %d times, want 2", len(reqs))
	}
	if reqs[0].Previous != nil || reqs[0].ReferenceImage == "" {
		t.Errorf("first scene should be fresh with the reference image: %+v", reqs[0])
	}
	if reqs[1].Previous == nil || reqs[1].Previous.ContinuationHandle() != "https://files.test/scene-0" {
		t.Errorf("second scene should continue from the first: %+v", reqs[1].Previous)
	}
	if reqs[1].ReferenceImage != "" {
		t.Error("reference image must only be sent for the first scene")
	}
	if !reqs[0].Sequenced || !reqs[1].Sequenced {
		t.Error("two scenes must be rendered as a sequence")
	}
	if f.notifier.complete != 1 {
		t.Errorf("complete events = %d, want 1", f.notifier.complete)
	}
}

func TestRun_SingleSceneIsNotSequenced(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:05")

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.analyzer.gotCount != 1 {
		t.Errorf("analyzer asked for %d scenes, want 1", f.analyzer.gotCount)
	}
	if len(f.generator.requests) != 1 || f.generator.requests[0].Sequenced {
		t.Errorf("unexpected requests %+v", f.generator.requests)
	}
}

func TestRun_NoReferenceImageConfigured(t *testing.T) {
	f := newPipelineFixture(t)
	p := f.createProject(t, "00:16")
	p.Config.ReferenceImage = ""
	f.store.Save(context.Background(), p)

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.generator.requests) != 2 {
		t.Fatalf("generator called %d times, want 2", len(f.generator.requests))
	}
	for i, req := range f.generator.requests {
		if req.ReferenceImage != "" {
			t.Errorf("scene %d got reference image %q", i, req.ReferenceImage)
		}
	}
}

func TestRun_QuotaFailureThenResume(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")
	f.generator.failures["scene-1"] = fmt.Errorf("%w: rate limited", model.ErrQuota)

	err := f.pipeline.Run(context.Background(), "p1")
	if !errors.Is(err, model.ErrQuota) {
		t.Fatalf("Run = %v, want ErrQuota", err)
	}

	p := f.project(t)
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusFailed}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if p.Phase != model.PhaseIdle || p.Cursor != model.NoCursor {
		t.Errorf("phase=%s cursor=%d, want IDLE/-1", p.Phase, p.Cursor)
	}
	if p.Banner == nil || p.Banner.Code != model.CodeQuotaError {
		t.Fatalf("banner = %+v, want LIMITE_COTAS", p.Banner)
	}
	if f.credentials.invalidated != 0 {
		t.Error("quota failures must not invalidate the credential")
	}
	if !p.IsInterrupted() || !p.HasFailedScenes() {
		t.Error("project should report interrupted with failed scenes")
	}

	// resume
	f.generator.requests = nil
	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := f.generator.sceneIDs(); !reflect.DeepEqual(got, []string{"scene-1"}) {
		t.Errorf("resume generated %v, want only scene-1", got)
	}
	if f.analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", f.analyzer.calls)
	}
	if f.generator.requests[0].Previous.ContinuationHandle() == "" {
		t.Error("resumed scene should continue from the completed first scene")
	}

	p = f.project(t)
	if p.Phase != model.PhaseCompleted || p.Banner != nil {
		t.Errorf("phase=%s banner=%+v, want COMPLETED and no banner", p.Phase, p.Banner)
	}
}

func TestRun_HaltsOnFirstFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:24")
	f.generator.failures["scene-1"] = &model.GenerationError{Message: "blocked by safety filters"}

	err := f.pipeline.Run(context.Background(), "p1")
	var genErr *model.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Run = %v, want GenerationError", err)
	}

	p := f.project(t)
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusFailed, model.SceneStatusPending}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if got := f.generator.sceneIDs(); !reflect.DeepEqual(got, []string{"scene-0", "scene-1"}) {
		t.Errorf("generated %v, scene-2 must not be attempted", got)
	}
	if p.Banner == nil || p.Banner.Code != model.CodeGenerationError || p.Banner.Message != "Error: blocked by safety filters" {
		t.Errorf("banner = %+v", p.Banner)
	}
	if p.Scenes[1].Error != "blocked by safety filters" {
		t.Errorf("scene error = %q", p.Scenes[1].Error)
	}
	if len(f.notifier.errors) != 1 || f.notifier.errors[0] != model.CodeGenerationError {
		t.Errorf("error events = %v", f.notifier.errors)
	}
}

func TestRun_AuthFailureInvalidatesCredential(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:08")
	f.generator.failures["scene-0"] = fmt.Errorf("%w: Requested entity was not found.", model.ErrAuth)

	err := f.pipeline.Run(context.Background(), "p1")
	if !errors.Is(err, model.ErrAuth) {
		t.Fatalf("Run = %v, want ErrAuth", err)
	}
	p := f.project(t)
	if p.Banner == nil || p.Banner.Code != model.CodeAuthError {
		t.Fatalf("banner = %+v, want AUTH_ERROR", p.Banner)
	}
	if f.credentials.invalidated != 1 {
		t.Errorf("credential invalidated %d times, want 1", f.credentials.invalidated)
	}

	// the next run is refused until a credential is requested again
	if err := f.pipeline.Run(context.Background(), "p1"); !errors.Is(err, ErrCredentialRequired) {
		t.Errorf("Run after auth failure = %v, want ErrCredentialRequired", err)
	}
}

func TestRun_AnalysisFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")
	f.analyzer.err = &model.CreativeAnalysisError{Reason: "empty response"}

	if err := f.pipeline.Run(context.Background(), "p1"); err == nil {
		t.Fatal("expected analysis failure")
	}
	p := f.project(t)
	if len(p.Scenes) != 0 || p.Phase != model.PhaseIdle {
		t.Errorf("scenes=%d phase=%s, want none/IDLE", len(p.Scenes), p.Phase)
	}
	if p.Banner == nil || p.Banner.Code != model.CodeAnalysisError {
		t.Errorf("banner = %+v", p.Banner)
	}
	if len(f.generator.requests) != 0 {
		t.Error("no scene may be generated after a failed analysis")
	}
}

func TestRun_CompletedProjectIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")
	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.generator.requests = nil

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(f.generator.requests) != 0 {
		t.Errorf("completed scenes were regenerated: %v", f.generator.sceneIDs())
	}
	if f.project(t).Phase != model.PhaseCompleted {
		t.Error("project should stay completed")
	}
}

func TestRun_Preconditions(t *testing.T) {
	t.Run("empty script", func(t *testing.T) {
		f := newPipelineFixture(t)
		p := f.createProject(t, "00:16")
		p.Script = "   "
		f.store.Save(context.Background(), p)

		if err := f.pipeline.Run(context.Background(), "p1"); !errors.Is(err, ErrEmptyScript) {
			t.Errorf("Run = %v, want ErrEmptyScript", err)
		}
		if f.analyzer.calls != 0 {
			t.Error("analyzer must not run")
		}
	})

	t.Run("no credential", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.createProject(t, "00:16")
		f.credentials.has = false

		if err := f.pipeline.Run(context.Background(), "p1"); !errors.Is(err, ErrCredentialRequired) {
			t.Errorf("Run = %v, want ErrCredentialRequired", err)
		}
	})

	t.Run("missing project", func(t *testing.T) {
		f := newPipelineFixture(t)
		if err := f.pipeline.Run(context.Background(), "nope"); !errors.Is(err, store.ErrProjectNotFound) {
			t.Errorf("Run = %v, want ErrProjectNotFound", err)
		}
	})
}

func TestRun_RecoversInterruptedRun(t *testing.T) {
	f := newPipelineFixture(t)
	p := f.createProject(t, "00:16")
	p.Phase = model.PhaseGeneratingVideos
	p.Cursor = 1
	p.Scenes = []model.Scene{
		*completedScene("scene-0", "https://files.test/scene-0", model.AspectLandscape),
		{ID: "scene-1", Prompt: "x", Status: model.SceneStatusGenerating},
	}
	p.Scenes[0].LocalMediaHandle = "projects/p1/scenes/scene-0.mp4"
	f.store.Save(context.Background(), p)

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.generator.sceneIDs(); !reflect.DeepEqual(got, []string{"scene-1"}) {
		t.Errorf("generated %v, want only scene-1", got)
	}
	if f.project(t).Phase != model.PhaseCompleted {
		t.Error("recovered run should complete")
	}
}

func TestRun_CancellationLeavesScenePending(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")

	ctx, cancel := context.WithCancel(context.Background())
	f.generator.onCall = func(req SceneRequest) error {
		if req.Scene.ID == "scene-1" {
			cancel()
			return context.Canceled
		}
		return nil
	}

	err := f.pipeline.Run(ctx, "p1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	p := f.project(t)
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusPending}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if p.Banner != nil || p.Phase != model.PhaseIdle {
		t.Errorf("banner=%+v phase=%s, want none/IDLE", p.Banner, p.Phase)
	}
}

func TestRetryScene(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:24")
	f.generator.failures["scene-1"] = &model.GenerationError{Message: "transient"}
	f.pipeline.Run(context.Background(), "p1")
	f.generator.requests = nil

	if err := f.pipeline.RetryScene(context.Background(), "p1", 1); err != nil {
		t.Fatalf("RetryScene: %v", err)
	}

	if got := f.generator.sceneIDs(); !reflect.DeepEqual(got, []string{"scene-1"}) {
		t.Errorf("generated %v, want only scene-1", got)
	}
	req := f.generator.requests[0]
	if req.Previous.ContinuationHandle() == "" {
		t.Error("retried scene should continue from the completed previous scene")
	}
	if req.Scene.Prompt != "SLOW DOLLY IN (PUSH): shot 2" {
		t.Errorf("retry must reuse stored prompt, got %q", req.Scene.Prompt)
	}

	p := f.project(t)
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusCompleted, model.SceneStatusPending}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if p.Phase != model.PhaseIdle || p.Banner != nil {
		t.Errorf("phase=%s banner=%+v, want IDLE/none", p.Phase, p.Banner)
	}
}

func TestRetryScene_PreviousFailedMeansFreshRequest(t *testing.T) {
	f := newPipelineFixture(t)
	p := f.createProject(t, "00:16")
	p.Scenes = []model.Scene{
		{ID: "scene-0", Prompt: "a", Status: model.SceneStatusFailed},
		{ID: "scene-1", Prompt: "b", Status: model.SceneStatusFailed},
	}
	f.store.Save(context.Background(), p)

	if err := f.pipeline.RetryScene(context.Background(), "p1", 1); err != nil {
		t.Fatalf("RetryScene: %v", err)
	}
	if h := f.generator.requests[0].Previous.ContinuationHandle(); h != "" {
		t.Errorf("continuation handle %q from a failed scene", h)
	}
	if f.generator.requests[0].ReferenceImage != "" {
		t.Error("reference image is only for the first scene")
	}
}

func TestRetryScene_IndexOutOfRange(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")

	for _, idx := range []int{-1, 0, 5} {
		if err := f.pipeline.RetryScene(context.Background(), "p1", idx); !errors.Is(err, ErrSceneIndexOutOfRange) {
			t.Errorf("RetryScene(%d) = %v, want ErrSceneIndexOutOfRange", idx, err)
		}
	}
}

func TestRetryScene_OnlyFailedScenes(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:24")
	f.generator.failures["scene-1"] = &model.GenerationError{Message: "transient"}
	f.pipeline.Run(context.Background(), "p1")
	f.generator.requests = nil
	f.generator.failures["scene-0"] = fmt.Errorf("%w: slow down", model.ErrQuota)

	// scene 0 completed, scene 2 still pending behind the failed scene 1
	for _, idx := range []int{0, 2} {
		if err := f.pipeline.RetryScene(context.Background(), "p1", idx); !errors.Is(err, ErrSceneNotRetryable) {
			t.Errorf("RetryScene(%d) = %v, want ErrSceneNotRetryable", idx, err)
		}
	}
	if len(f.generator.requests) != 0 {
		t.Errorf("generator called %d times for scenes that are not failed", len(f.generator.requests))
	}
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusFailed, model.SceneStatusPending}
	if got := statuses(f.project(t)); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestRetryScene_FailureKeepsOtherScenes(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:24")
	f.generator.failures["scene-1"] = &model.GenerationError{Message: "transient"}
	f.pipeline.Run(context.Background(), "p1")
	completedClip := f.project(t).Scenes[0].LocalMediaHandle
	f.generator.failures["scene-1"] = fmt.Errorf("%w: slow down", model.ErrQuota)

	if err := f.pipeline.RetryScene(context.Background(), "p1", 1); !errors.Is(err, model.ErrQuota) {
		t.Fatalf("RetryScene = %v, want ErrQuota", err)
	}
	p := f.project(t)
	want := []model.SceneStatus{model.SceneStatusCompleted, model.SceneStatusFailed, model.SceneStatusPending}
	if got := statuses(p); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if p.Scenes[0].LocalMediaHandle != completedClip {
		t.Errorf("completed scene changed: %q", p.Scenes[0].LocalMediaHandle)
	}
	if p.Phase != model.PhaseIdle || p.Banner == nil || p.Banner.Code != model.CodeQuotaError {
		t.Errorf("phase=%s banner=%+v", p.Phase, p.Banner)
	}
}

func TestReset(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:16")
	f.pipeline.Run(context.Background(), "p1")

	if err := f.pipeline.Reset(context.Background(), "p1", false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("Reset(false) = %v, want ErrConfirmationRequired", err)
	}
	if len(f.project(t).Scenes) != 2 {
		t.Fatal("unconfirmed reset must not change anything")
	}

	if err := f.pipeline.Reset(context.Background(), "p1", true); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	p := f.project(t)
	if len(p.Scenes) != 0 || p.Phase != model.PhaseIdle || p.Cursor != model.NoCursor || p.Banner != nil {
		t.Errorf("project not reset: %+v", p)
	}
	if p.ConfigLocked() {
		t.Error("config should unlock after reset")
	}
	wantDeleted := []string{"projects/p1/scenes/scene-0.mp4", "projects/p1/scenes/scene-1.mp4"}
	if !reflect.DeepEqual(f.storage.deleted, wantDeleted) {
		t.Errorf("deleted = %v, want %v", f.storage.deleted, wantDeleted)
	}
}

func TestRun_BroadcastsEveryTransition(t *testing.T) {
	f := newPipelineFixture(t)
	f.createProject(t, "00:08")

	if err := f.pipeline.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []model.Phase{
		model.PhaseAnalyzingScript,
		model.PhaseGeneratingVideos,
		model.PhaseGeneratingVideos, // scene-0 generating
		model.PhaseGeneratingVideos, // scene-0 completed
		model.PhaseCompleted,
	}
	if !reflect.DeepEqual(f.notifier.phases, want) {
		t.Errorf("phases = %v, want %v", f.notifier.phases, want)
	}
	wantScenes := []model.SceneStatus{model.SceneStatusGenerating, model.SceneStatusCompleted}
	if !reflect.DeepEqual(f.notifier.scenes, wantScenes) {
		t.Errorf("scene events = %v, want %v", f.notifier.scenes, wantScenes)
	}
}
