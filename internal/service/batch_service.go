package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gio888/whisper-transcription/internal/model"
)

// Task types and queues
const (
	TaskTypeTranscribe = "transcription:batch"
	QueueTranscription = "transcription"
)

// batchTTL bounds how long the live copy of a batch stays in Redis. The
// durable history row outlives it.
const batchTTL = 24 * time.Hour

// Batch failures the handler maps to specific response codes.
var (
	ErrTooManyFiles  = errors.New("too many files in batch")
	ErrBatchNotFound = errors.New("batch not found")
	ErrFileNotFound  = errors.New("file not found")
	ErrBatchFinished = errors.New("batch already finished")
)

// TaskEnqueuer is the slice of asynq.Client the service needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the slice of asynq.Inspector used for cancellation.
type TaskInspector interface {
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

// BatchService owns the batch lifecycle: creation, status, history, and
// cancellation. Live state lives in Redis; every batch also gets a durable
// row in the history database.
type BatchService struct {
	redis     *redis.Client
	enqueuer  TaskEnqueuer
	inspector TaskInspector
	db        *gorm.DB
	maxFiles  int
}

func NewBatchService(redisClient *redis.Client, enqueuer TaskEnqueuer, inspector TaskInspector, db *gorm.DB, maxFiles int) *BatchService {
	return &BatchService{
		redis:     redisClient,
		enqueuer:  enqueuer,
		inspector: inspector,
		db:        db,
		maxFiles:  maxFiles,
	}
}

// CreateBatch registers the given files as one batch, in submission order,
// and queues it for processing. Batches over the file ceiling are rejected
// before any record is created.
func (s *BatchService) CreateBatch(ctx context.Context, files []model.AudioFile) (*model.BatchJob, error) {
	if len(files) > s.maxFiles {
		return nil, fmt.Errorf("%w: %d files, maximum is %d", ErrTooManyFiles, len(files), s.maxFiles)
	}
	if len(files) == 0 {
		return nil, errors.New("batch contains no files")
	}

	batchID := uuid.New().String()

	batch := &model.BatchJob{
		ID:         batchID,
		Status:     model.BatchStatusCreated,
		TotalFiles: len(files),
		CreatedAt:  time.Now(),
	}
	for _, f := range files {
		batch.Files = append(batch.Files, model.FileRecord{
			ID:           f.ID,
			BatchID:      batchID,
			OriginalName: f.OriginalName,
			OriginalPath: f.OriginalPath,
			FilePath:     f.Path,
			Size:         f.Size,
			Status:       model.FileStatusQueued,
		})
	}

	// History row first, then the live copy the worker reads.
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, fmt.Errorf("failed to record batch: %w", err)
	}
	if err := s.saveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	task, err := newTranscribeTask(batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// Batch runs are not idempotent, so never retry.
	info, err := s.enqueuer.Enqueue(task,
		asynq.Queue(QueueTranscription),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	batch.TaskID = info.ID
	if err := s.saveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	s.db.WithContext(ctx).Model(&model.BatchJob{}).Where("id = ?", batchID).Update("task_id", info.ID)

	return batch, nil
}

// GetBatch returns the live copy of a batch, falling back to the history
// database once the live copy has expired.
func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	batch, err := s.getBatch(ctx, batchID)
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, ErrBatchNotFound) {
		return nil, err
	}

	var stored model.BatchJob
	result := s.db.WithContext(ctx).Preload("Files").First(&stored, "id = ?", batchID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, result.Error
	}
	return &stored, nil
}

// ListRecent returns the most recently created batches from the history
// database, newest first.
func (s *BatchService) ListRecent(ctx context.Context, limit int) ([]model.BatchJob, error) {
	if limit <= 0 {
		limit = 10
	}
	var batches []model.BatchJob
	err := s.db.WithContext(ctx).
		Preload("Files").
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// GetFile looks up one file record in the history database.
func (s *BatchService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	var record model.FileRecord
	result := s.db.WithContext(ctx).First(&record, "id = ?", fileID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, result.Error
	}
	return &record, nil
}

// CancelBatch stops a batch. A batch that has not started is cancelled
// outright and its queued files marked skipped; a running batch has its
// task cancelled and the worker finalizes the remaining records.
func (s *BatchService) CancelBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	switch batch.Status {
	case model.BatchStatusCompleted, model.BatchStatusCancelled:
		return nil, fmt.Errorf("%w: %s", ErrBatchFinished, batch.Status)
	case model.BatchStatusCreated:
		// Not picked up yet: drop the pending task and finalize here.
		if batch.TaskID != "" {
			// Best effort; the task may be dequeuing right now, in which
			// case the worker sees the cancelled status and stops itself.
			_ = s.inspector.DeleteTask(QueueTranscription, batch.TaskID)
		}
		for i := range batch.Files {
			if batch.Files[i].Status == model.FileStatusQueued {
				batch.Files[i].Status = model.FileStatusSkipped
			}
		}
		batch.Status = model.BatchStatusCancelled
		s.db.WithContext(ctx).Model(&model.FileRecord{}).
			Where("batch_id = ? AND status = ?", batchID, model.FileStatusQueued).
			Update("status", model.FileStatusSkipped)
	default:
		// Running: flag the batch and interrupt the worker. The worker owns
		// the per-file bookkeeping from here.
		batch.Status = model.BatchStatusCancelled
		if batch.TaskID != "" {
			_ = s.inspector.CancelProcessing(batch.TaskID)
		}
	}

	// The worker overwrites the batch record as it goes, so the cancel flag
	// lives under its own key where those writes cannot erase it.
	s.redis.Set(ctx, fmt.Sprintf("batch:%s:cancelled", batchID), "1", batchTTL)

	if err := s.saveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	s.db.WithContext(ctx).Model(&model.BatchJob{}).Where("id = ?", batchID).Update("status", batch.Status)

	return batch, nil
}

// Helper methods

func (s *BatchService) saveBatch(ctx context.Context, batch *model.BatchJob) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("batch:%s", batch.ID), data, batchTTL).Err()
}

func (s *BatchService) getBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("batch:%s", batchID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	var batch model.BatchJob
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func newTranscribeTask(batchID string) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"batchId": batchID,
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTranscribe, data), nil
}
