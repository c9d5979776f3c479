package handler

import (
	"os"
	"os/exec"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gio888/whisper-transcription/internal/config"
	"github.com/gio888/whisper-transcription/pkg/response"
)

type HealthHandler struct {
	redis    *redis.Client
	db       *gorm.DB
	cfg      *config.Config
	mockMode bool
}

func NewHealthHandler(redisClient *redis.Client, db *gorm.DB, cfg *config.Config, mockMode bool) *HealthHandler {
	return &HealthHandler{
		redis:    redisClient,
		db:       db,
		cfg:      cfg,
		mockMode: mockMode,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	checks := map[string]string{}

	if err := h.redis.Ping(c.Context()).Err(); err != nil {
		checks["redis"] = "unreachable"
		status = "degraded"
	} else {
		checks["redis"] = "ok"
	}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		checks["database"] = "unreachable"
		status = "degraded"
	} else {
		checks["database"] = "ok"
	}

	checks["ffmpeg"] = toolCheck(h.cfg.Tools.FFmpeg)
	checks["ffprobe"] = toolCheck(h.cfg.Tools.FFprobe)
	checks["whisper"] = toolCheck(h.cfg.Whisper.Binary)
	if _, err := os.Stat(h.cfg.Whisper.ModelPath); err != nil {
		checks["model"] = "missing"
	} else {
		checks["model"] = "ok"
	}

	engine := "whisper"
	if h.mockMode {
		// The mock engine needs no external tools; their absence is why it
		// is active in the first place.
		engine = "mock"
	} else {
		for _, key := range []string{"ffmpeg", "ffprobe", "whisper", "model"} {
			if checks[key] != "ok" {
				status = "degraded"
			}
		}
	}

	return response.OK(c, fiber.Map{
		"status": status,
		"engine": engine,
		"checks": checks,
	})
}

func toolCheck(bin string) string {
	if _, err := exec.LookPath(bin); err != nil {
		return "missing"
	}
	return "ok"
}
