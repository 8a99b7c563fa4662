package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1.5}
}

// memoryStorage is an in-memory StorageClient
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return m.GetPublicURL(key), nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return m.GetPublicURL(key) + "?signed=1", nil
}

func (m *memoryStorage) GetPublicURL(key string) string {
	return "https://media.test/" + key
}

// fakeVideoAPI scripts the Veo operation lifecycle
type fakeVideoAPI struct {
	mu sync.Mutex

	submitted   []*client.VideoRequest
	submitErrs  []error
	pendingPoll int
	final       *client.Operation
	pollErrs    []error
	polls       int
	downloadErr []error
	downloads   int
	data        []byte
}

func newFakeVideoAPI() *fakeVideoAPI {
	return &fakeVideoAPI{
		final: &client.Operation{
			Name:     "operations/op-1",
			Done:     true,
			Response: &client.OperationResponse{},
		},
		data: []byte("\x00\x00\x00\x18ftypmp42clip"),
	}
}

func (f *fakeVideoAPI) withVideo(uri string) *fakeVideoAPI {
	f.final.Response.GenerateVideoResponse.GeneratedSamples = []client.GeneratedSample{{Video: client.VideoInput{URI: uri}}}
	return f
}

func (f *fakeVideoAPI) SubmitVideo(ctx context.Context, req *client.VideoRequest) (*client.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return nil, err
	}
	f.submitted = append(f.submitted, req)
	return &client.Operation{Name: "operations/op-1"}, nil
}

func (f *fakeVideoAPI) GetOperation(ctx context.Context, name string) (*client.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return nil, err
	}
	f.polls++
	if f.polls <= f.pendingPoll {
		return &client.Operation{Name: name}, nil
	}
	op := *f.final
	return &op, nil
}

func (f *fakeVideoAPI) Download(ctx context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if len(f.downloadErr) > 0 {
		err := f.downloadErr[0]
		f.downloadErr = f.downloadErr[1:]
		return nil, err
	}
	return f.data, nil
}

// fakeAnalyzer returns canned scenes
type fakeAnalyzer struct {
	scenes    []model.Scene
	err       error
	calls     int
	gotCount  int
	gotScript string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, script string, sceneCount int) ([]model.Scene, error) {
	f.calls++
	f.gotCount = sceneCount
	f.gotScript = script
	if f.err != nil {
		return nil, f.err
	}
	if f.scenes != nil {
		return f.scenes, nil
	}
	scenes := make([]model.Scene, sceneCount)
	for i := range scenes {
		scenes[i] = model.Scene{
			ID:     fmt.Sprintf("scene-%d", i),
			Title:  fmt.Sprintf("Scene %d", i+1),
			Prompt: fmt.Sprintf("SLOW DOLLY IN (PUSH): shot %d", i+1),
			Status: model.SceneStatusPending,
		}
	}
	return scenes, nil
}

// fakeGenerator records requests; failures are keyed by scene id
type fakeGenerator struct {
	requests []SceneRequest
	failures map[string]error
	onCall   func(req SceneRequest) error
}

func (f *fakeGenerator) Generate(ctx context.Context, req SceneRequest) (*SceneOutput, error) {
	f.requests = append(f.requests, req)
	if f.onCall != nil {
		if err := f.onCall(req); err != nil {
			return nil, err
		}
	}
	if err, ok := f.failures[req.Scene.ID]; ok {
		delete(f.failures, req.Scene.ID)
		return nil, err
	}
	uri := "https://files.test/" + req.Scene.ID
	key := fmt.Sprintf("projects/%s/scenes/%s.mp4", req.ProjectID, req.Scene.ID)
	return &SceneOutput{
		Result: model.GenerationResult{
			RemoteURI:          uri,
			ContinuationHandle: uri,
			AspectRatio:        req.AspectRatio,
		},
		LocalMediaHandle: key,
		MediaURL:         "https://media.test/" + key,
	}, nil
}

func (f *fakeGenerator) sceneIDs() []string {
	ids := make([]string, len(f.requests))
	for i, r := range f.requests {
		ids[i] = r.Scene.ID
	}
	return ids
}

// fakeCredentials is a CredentialProvider with a single switch
type fakeCredentials struct {
	has         bool
	key         string
	invalidated int
}

func (f *fakeCredentials) HasCredential(ctx context.Context, ownerID string) (bool, error) {
	return f.has, nil
}

func (f *fakeCredentials) RequestCredential(ctx context.Context, ownerID string) (bool, error) {
	f.has = true
	return true, nil
}

func (f *fakeCredentials) Resolve(ctx context.Context, ownerID string) (string, error) {
	return f.key, nil
}

func (f *fakeCredentials) Invalidate(ctx context.Context, ownerID string) error {
	f.invalidated++
	f.has = false
	return nil
}

// recordingNotifier captures broadcast events
type recordingNotifier struct {
	mu       sync.Mutex
	phases   []model.Phase
	scenes   []model.SceneStatus
	errors   []string
	complete int
}

func (r *recordingNotifier) BroadcastProgress(projectID string, progress int, phase model.Phase, cursor int, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
}

func (r *recordingNotifier) BroadcastScene(projectID string, index int, scene model.Scene) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes = append(r.scenes, scene.Status)
}

func (r *recordingNotifier) BroadcastComplete(projectID string, result interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete++
}

func (r *recordingNotifier) BroadcastError(projectID string, code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, code)
}

// fakeLocker is an in-process RunLocker keyed by project
type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) Acquire(ctx context.Context, projectID, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.held[projectID] != "" {
		return false, nil
	}
	l.held[projectID] = token
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, projectID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] == token {
		delete(l.held, projectID)
	}
	return nil
}

func (l *fakeLocker) Held(ctx context.Context, projectID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[projectID] != "", nil
}

// taskID returns the asynq.TaskID option of the i-th task
func (q *fakeQueue) taskID(i int) string {
	for _, opt := range q.opts[i] {
		if opt.Type() == asynq.TaskIDOpt {
			return opt.Value().(string)
		}
	}
	return ""
}

// fakeQueue records enqueued tasks
type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (q *fakeQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	q.opts = append(q.opts, opts)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(q.tasks)), Queue: QueuePipeline, Type: task.Type()}, nil
}
