package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/veoflow/api/internal/auth"
	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/config"
	"github.com/veoflow/api/internal/handler"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/retry"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/internal/store"
	ws "github.com/veoflow/api/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
	rejectedKey   = "rejected-key-000"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	redis *redis.Client
}

// fakeGemini answers the credential probe: 400 for rejectedKey, 200 otherwise.
func fakeGemini(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") == rejectedKey {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"models/gemini"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupApp wires the same routes as main.go against Redis DB 15, an
// in-memory project store, disk clip storage and a fake Gemini endpoint.
// Tasks are queued but no worker runs.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		redisClient.FlushDB(context.Background())
		redisClient.Close()
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	gemini := client.NewGeminiClient(&config.GeminiConfig{BaseURL: fakeGemini(t).URL}, nil)
	storage, err := client.NewDiskStorage(&config.DiskConfig{Root: t.TempDir(), PublicURL: "/media"})
	if err != nil {
		t.Fatalf("disk storage: %v", err)
	}

	projectStore := store.NewMemoryStore()
	locker := store.NewLocker(redisClient, 0)
	hub := ws.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	credentialService := service.NewCredentialService(redisClient, gemini, "server-key", nil)
	analyzer := service.NewAnalyzer(gemini, "gemini-test", retry.DefaultPolicy(), nil)
	generator := service.NewSceneGenerator(gemini, storage, service.SceneGeneratorConfig{}, nil)
	pipeline := service.NewPipeline(projectStore, analyzer, generator, storage, credentialService, hub, nil)
	projectService := service.NewProjectService(projectStore, locker, asynqClient, pipeline, credentialService, storage, 0, nil)
	draftService := service.NewDraftService(redisClient)

	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient, nil)

	projectHandler := handler.NewProjectHandler(projectService, validate)
	draftHandler := handler.NewDraftHandler(draftService, validate)
	credentialHandler := handler.NewCredentialHandler(credentialService, validate)
	streamHandler := handler.NewStreamHandler(projectService, hub)
	authHandler := handler.NewAuthHandler(authMiddleware)

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"gemini":  false,
				"store":   "memory",
				"storage": "disk",
				"auth":    true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	projects := api.Group("/projects", rateLimiter.ProjectsLimit(10000))
	projects.Post("/", projectHandler.Create)
	projects.Get("/", projectHandler.List)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Put("/:projectId/script", projectHandler.UpdateScript)
	projects.Put("/:projectId/config", projectHandler.UpdateConfig)
	projects.Post("/:projectId/run", rateLimiter.RunLimit(10000), projectHandler.Run)
	projects.Post("/:projectId/scenes/:index/retry", rateLimiter.RunLimit(10000), projectHandler.RetryScene)
	projects.Post("/:projectId/reset", projectHandler.Reset)
	projects.Get("/:projectId/scenes/:index/media", projectHandler.Media)

	api.Get("/drafts", draftHandler.Get)
	api.Put("/drafts", draftHandler.Save)

	credentials := api.Group("/credentials", rateLimiter.CredentialLimit(10000))
	credentials.Get("/", credentialHandler.Status)
	credentials.Post("/", credentialHandler.Connect)
	credentials.Delete("/", credentialHandler.Delete)

	app.Get("/ws/projects/:projectId", authMiddleware.Authenticate(), streamHandler.Authorize, streamHandler.Serve())

	return &testApp{app: app, redis: redisClient}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(userID, userID+"@example.com", testJWTSecret, 0)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as testUserID.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequestAs(t, app, testUserID, method, path, body)
}

func doRequestAs(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode returns error.code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// createProject creates a project for testUserID and returns its id.
func createProject(t *testing.T, app *fiber.App, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, app, http.MethodPost, "/api/projects", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	id, _ := parseJSON(t, resp)["id"].(string)
	if id == "" {
		t.Fatal("create: missing project id")
	}
	return id
}
