package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
	"github.com/gio888/whisper-transcription/pkg/response"
)

type BatchHandler struct {
	service   *service.BatchService
	validator *validator.Validate
}

func NewBatchHandler(svc *service.BatchService, v *validator.Validate) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/batches
func (h *BatchHandler) List(c *fiber.Ctx) error {
	var req model.ListBatchesRequest
	if err := c.QueryParser(&req); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	batches, err := h.service.ListRecent(c.Context(), req.Limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.BatchListResponse{Batches: batches})
}

// Status handles GET /api/batches/:batchId
func (h *BatchHandler) Status(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	batch, err := h.service.GetBatch(c.Context(), batchID)
	if err != nil {
		if errors.Is(err, service.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.BatchStatusResponse{
		BatchID:          batch.ID,
		Status:           batch.Status,
		TotalFiles:       batch.TotalFiles,
		CompletedFiles:   batch.CompletedFiles,
		FailedFiles:      batch.FailedFiles,
		CurrentFileIndex: batch.CurrentFileIndex,
		CreatedAt:        batch.CreatedAt,
		Files:            batch.Files,
	})
}

// Cancel handles POST /api/batches/:batchId/cancel
func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	batchID := c.Params("batchId")
	if batchID == "" {
		return response.ValidationError(c, "Batch ID is required", nil)
	}

	batch, err := h.service.CancelBatch(c.Context(), batchID)
	if err != nil {
		if errors.Is(err, service.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		if errors.Is(err, service.ErrBatchFinished) {
			return response.Conflict(c, "Batch already finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.BatchCancelResponse{
		BatchID: batch.ID,
		Status:  batch.Status,
	})
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
