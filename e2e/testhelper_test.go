package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/videotranslator/api/internal/client"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/handler"
	"github.com/videotranslator/api/internal/middleware"
	"github.com/videotranslator/api/internal/progress"
	"github.com/videotranslator/api/internal/service"
	"github.com/videotranslator/api/internal/simulator"
	ws "github.com/videotranslator/api/internal/websocket"
	"github.com/videotranslator/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	sessions *service.SessionService
	jobs     *service.JobService
}

type appOptions struct {
	// tick is the simulator interval; long intervals keep jobs running
	tick      time.Duration
	queue     bool
	maxSize   int64
	rateLimit int
}

// inlineEnqueuer hands tasks straight to the worker instead of a queue
type inlineEnqueuer struct {
	w *worker.TranslateWorker
}

func (e *inlineEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	go func() {
		if err := e.w.ProcessTask(context.Background(), task); err != nil {
			e.w.HandleError(context.Background(), task, err)
		}
	}()
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

// setupApp creates a Fiber app wired like main.go, backed by miniredis and
// local disk storage.
func setupApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	if opts.tick <= 0 {
		opts.tick = time.Hour
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { redisClient.Close() })

	storage, err := client.NewLocalStorage(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	sim := simulator.New(simulator.Config{Interval: opts.tick, Step: 5})

	languageService := service.NewLanguageService(nil)
	mediaService := service.NewMediaService(storage, opts.maxSize, time.Hour)

	var runner controller.Runner = controller.NewSimulatorRunner(sim)
	var jobService *service.JobService
	if opts.queue {
		enq := &inlineEnqueuer{}
		jobService = service.NewJobService(redisClient, enq, service.JobOptions{MaxRetry: 1})
		enq.w = worker.NewTranslateWorker(jobService, sim, progress.DefaultPhases)
		runner = service.NewQueueRunner(jobService)
	}

	sessionService := service.NewSessionService(runner, progress.DefaultPhases, hub, mediaService, time.Hour)
	t.Cleanup(func() { sessionService.Close(context.Background()) })

	validate := handler.NewValidator(languageService)
	languageHandler := handler.NewLanguageHandler(languageService, mediaService.MaxSize())
	sessionHandler := handler.NewSessionHandler(sessionService, mediaService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Use very high rate limits unless a test asks otherwise
	limit := opts.rateLimit
	if limit <= 0 {
		limit = 10000
	}

	app := fiber.New(fiber.Config{
		BodyLimit: int(mediaService.MaxSize()) + 1024*1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    true,
				"storage":  false,
				"runner":   "local",
				"sessions": sessionService.Len(),
			},
		})
	})
	app.Static("/media", storage.Root())

	api := app.Group("/api", authMiddleware.Authenticate())
	api.Get("/languages", languageHandler.List)

	sessions := api.Group("/sessions")
	sessions.Post("/", rateLimiter.SessionLimit(limit), sessionHandler.Create)
	sessions.Get("/:sessionId", sessionHandler.Get)
	sessions.Delete("/:sessionId", sessionHandler.Delete)
	sessions.Post("/:sessionId/media", rateLimiter.UploadLimit(limit), sessionHandler.UploadMedia)
	sessions.Post("/:sessionId/translate", rateLimiter.TranslateLimit(limit), sessionHandler.Translate)
	sessions.Post("/:sessionId/cancel", sessionHandler.Cancel)
	sessions.Post("/:sessionId/reset", sessionHandler.Reset)

	if jobService != nil {
		api.Get("/jobs/:jobId", handler.NewJobHandler(jobService).Get)
	}

	app.Get("/ws/sessions/:sessionId", authMiddleware.Authenticate(), sessionHandler.Upgrade, sessionHandler.Watch(hub))

	return &testApp{app: app, sessions: sessionService, jobs: jobService}
}

// generateToken creates a token for the given user.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.NewAuthMiddleware(testJWTSecret).GenerateToken(userID, userID+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
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

// doAuthRequest performs a request as test-user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, "test-user"),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// mp4Bytes returns an ISO base media file header followed by filler.
func mp4Bytes(size int) []byte {
	head := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	if size < len(head) {
		size = len(head)
	}
	out := make([]byte, size)
	copy(out, head)
	return out
}

// uploadRequest builds a multipart upload with one file per entry of contents.
func uploadRequest(t *testing.T, sessionID, fileName, contentType string, contents ...[]byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for i, data := range contents {
		name := fileName
		if i > 0 {
			name = "extra-" + fileName
		}
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		partHeader.Set("Content-Type", contentType)
		part, err := writer.CreatePart(partHeader)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(data)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/media", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t, "test-user"))
	return req
}

// createSession creates a session as test-user and returns its ID.
func createSession(t *testing.T, ta *testApp) string {
	t.Helper()
	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/sessions", "")
	assertStatus(t, resp, http.StatusCreated)
	body := parseJSON(t, resp)
	id, _ := body["sessionId"].(string)
	if id == "" {
		t.Fatal("expected 'sessionId' in response")
	}
	return id
}

// uploadVideo uploads a small mp4 into the session.
func uploadVideo(t *testing.T, ta *testApp, sessionID string) map[string]interface{} {
	t.Helper()
	resp, err := ta.app.Test(uploadRequest(t, sessionID, "clip.mp4", "video/mp4", mp4Bytes(2048)), -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	return parseJSON(t, resp)
}

// getState fetches the session state.
func getState(t *testing.T, ta *testApp, sessionID string) map[string]interface{} {
	t.Helper()
	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/sessions/"+sessionID, "")
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)
}

// waitForStatus polls the session until it reports status or the deadline passes.
func waitForStatus(t *testing.T, ta *testApp, sessionID, status string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		state := getState(t, ta, sessionID)
		if state["status"] == status {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %v, want %s", state["status"], status)
		}
		time.Sleep(10 * time.Millisecond)
	}
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

// errorCode returns error.code of an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, _ := body["error"].(map[string]interface{})
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
