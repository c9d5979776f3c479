package handler

import (
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
	"github.com/gio888/whisper-transcription/pkg/response"
)

type UploadHandler struct {
	uploads  *service.UploadService
	batches  *service.BatchService
	maxFiles int
}

func NewUploadHandler(uploads *service.UploadService, batches *service.BatchService, maxFiles int) *UploadHandler {
	return &UploadHandler{
		uploads:  uploads,
		batches:  batches,
		maxFiles: maxFiles,
	}
}

// Single handles POST /api/upload
func (h *UploadHandler) Single(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	audio, err := h.saveOne(file)
	if err != nil {
		return uploadError(c, err, file.Filename)
	}
	// Optional: where the file lives on the client's machine. When present,
	// the transcript is placed beside it instead of the transcript dir.
	audio.OriginalPath = c.FormValue("original_path")

	batch, err := h.batches.CreateBatch(c.Context(), []model.AudioFile{*audio})
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, model.UploadResponse{
		BatchID: batch.ID,
		File: model.BatchFileInfo{
			ID:     audio.ID,
			Name:   audio.OriginalName,
			Size:   audio.Size,
			Status: model.FileStatusQueued,
		},
		Message: "File queued for transcription",
	})
}

// Batch handles POST /api/batch-upload
func (h *UploadHandler) Batch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form is required", nil)
	}

	files := form.File["files"]
	if len(files) == 0 {
		return response.ValidationError(c, "At least one file is required", nil)
	}
	// Rejected before anything touches disk or the database.
	if len(files) > h.maxFiles {
		return response.TooManyFiles(c, fmt.Sprintf("Too many files: %d, maximum is %d", len(files), h.maxFiles))
	}

	saved := make([]model.AudioFile, 0, len(files))
	for _, file := range files {
		audio, err := h.saveOne(file)
		if err != nil {
			for _, s := range saved {
				h.uploads.Remove(s.Path)
			}
			return uploadError(c, err, file.Filename)
		}
		saved = append(saved, *audio)
	}

	batch, err := h.batches.CreateBatch(c.Context(), saved)
	if err != nil {
		if errors.Is(err, service.ErrTooManyFiles) {
			return response.TooManyFiles(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	infos := make([]model.BatchFileInfo, 0, len(saved))
	for _, s := range saved {
		infos = append(infos, model.BatchFileInfo{
			ID:     s.ID,
			Name:   s.OriginalName,
			Size:   s.Size,
			Status: model.FileStatusQueued,
		})
	}

	return response.Created(c, model.BatchUploadResponse{
		BatchID:    batch.ID,
		FilesCount: len(infos),
		Files:      infos,
	})
}

func (h *UploadHandler) saveOne(file *multipart.FileHeader) (*model.AudioFile, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	return h.uploads.SaveAudio(file.Filename, file.Size, f)
}

func uploadError(c *fiber.Ctx, err error, filename string) error {
	if errors.Is(err, service.ErrUnsupportedType) {
		return response.ValidationError(c, "File type not allowed. Supported: M4A, MP3, WAV, AAC, MP4", map[string]interface{}{
			"file": filename,
		})
	}
	if errors.Is(err, service.ErrFileTooLarge) {
		return response.FileTooLarge(c, fmt.Sprintf("File %s exceeds the size limit", filename))
	}
	return response.ServiceError(c, err.Error())
}
