package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gio888/whisper-transcription/internal/config"
	"github.com/gio888/whisper-transcription/internal/handler"
	"github.com/gio888/whisper-transcription/internal/middleware"
	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
)

// fakeEnqueuer records enqueued tasks without a worker behind them.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.tasks)), Queue: service.QueueTranscription}, nil
}

type fakeInspector struct {
	cancelled []string
	deleted   []string
}

func (f *fakeInspector) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeInspector) DeleteTask(queue, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// testApp holds the wired HTTP surface plus the stores tests inspect.
type testApp struct {
	app       *fiber.App
	rdb       *redis.Client
	db        *gorm.DB
	enq       *fakeEnqueuer
	insp      *fakeInspector
	uploadDir string
}

// setupApp creates a Fiber app with the same routes as main.go, backed by
// miniredis, an in-memory history database, and a task client that only
// records enqueues. No transcription worker runs, so files stay queued.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.BatchJob{}, &model.FileRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	enq := &fakeEnqueuer{}
	insp := &fakeInspector{}
	validate := validator.New()

	uploadDir := t.TempDir()
	uploadService := service.NewUploadService(uploadDir, 10*1024*1024)
	batchService := service.NewBatchService(rdb, enq, insp, db, 50)

	// Point the health checks at binaries that do not exist; mock mode
	// keeps them from degrading the status.
	cfg := &config.Config{}
	cfg.Tools.FFmpeg = "ffmpeg-not-installed"
	cfg.Tools.FFprobe = "ffprobe-not-installed"
	cfg.Whisper.Binary = "whisper-not-installed"
	cfg.Whisper.ModelPath = "model-not-installed.bin"

	uploadHandler := handler.NewUploadHandler(uploadService, batchService, 50)
	batchHandler := handler.NewBatchHandler(batchService, validate)
	downloadHandler := handler.NewDownloadHandler(batchService)
	healthHandler := handler.NewHealthHandler(rdb, db, cfg, true)
	rateLimiter := middleware.NewRateLimiter(rdb)

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024,
	})

	app.Get("/health", healthHandler.Health)

	api := app.Group("/api")

	// Very high rate limit so tests don't get throttled.
	api.Post("/upload", rateLimiter.UploadLimit(10000), uploadHandler.Single)
	api.Post("/batch-upload", rateLimiter.UploadLimit(10000), uploadHandler.Batch)

	api.Get("/batches", batchHandler.List)
	api.Get("/batches/:batchId", batchHandler.Status)
	api.Post("/batches/:batchId/cancel", batchHandler.Cancel)

	api.Get("/download/:fileId", downloadHandler.Transcript)

	return &testApp{
		app:       app,
		rdb:       rdb,
		db:        db,
		enq:       enq,
		insp:      insp,
		uploadDir: uploadDir,
	}
}

// fakeAudio is a minimal RIFF header plus padding, enough to pass the
// upload layer. Nothing probes it because no worker runs in these tests.
func fakeAudio() []byte {
	data := make([]byte, 2048)
	copy(data, []byte("RIFF\x00\x00\x00\x00WAVEfmt "))
	return data
}

// audioRequest builds a multipart request carrying one fake audio file
// per name under the given field.
func audioRequest(t *testing.T, path, field string, names ...string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(fakeAudio()); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// doRequest performs a bodyless request against the test app.
func doRequest(t *testing.T, app *fiber.App, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
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

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode digs the machine-readable code out of an error envelope.
func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	detail, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error envelope: %v", result)
	}
	code, _ := detail["code"].(string)
	return code
}
