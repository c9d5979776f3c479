package handler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
	"github.com/gio888/whisper-transcription/pkg/response"
)

type DownloadHandler struct {
	service *service.BatchService
}

func NewDownloadHandler(svc *service.BatchService) *DownloadHandler {
	return &DownloadHandler{service: svc}
}

// Transcript handles GET /api/download/:fileId
func (h *DownloadHandler) Transcript(c *fiber.Ctx) error {
	fileID := c.Params("fileId")
	if fileID == "" {
		return response.ValidationError(c, "File ID is required", nil)
	}

	record, err := h.service.GetFile(c.Context(), fileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, "File not found")
		}
		return response.ServiceError(c, err.Error())
	}

	if record.Status != model.FileStatusCompleted || record.TranscriptPath == "" {
		return response.NotFound(c, "Transcript not available")
	}
	if _, err := os.Stat(record.TranscriptPath); err != nil {
		return response.NotFound(c, "Transcript not available")
	}

	name := strings.TrimSuffix(record.OriginalName, filepath.Ext(record.OriginalName)) + "_transcript.txt"
	return c.Download(record.TranscriptPath, name)
}
