package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/gio888/whisper-transcription/internal/model"
	"github.com/gio888/whisper-transcription/internal/service"
	"github.com/gio888/whisper-transcription/internal/transcriber"
)

// Transcriber runs the per-file pipeline.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcriber.Request) <-chan model.ProgressEvent
}

// Broadcaster pushes batch events to subscribers.
type Broadcaster interface {
	BroadcastBatchStatus(b *model.BatchJob)
	BroadcastFileStart(batchID, fileID string, index int, name string)
	BroadcastFileProgress(batchID, fileID string, ev model.ProgressEvent)
	BroadcastFileComplete(batchID string, f *model.FileRecord, transcript, warning string)
	BroadcastBatchComplete(b *model.BatchJob)
}

// TranscribeWorker processes one batch per task, transcribing its files
// strictly in submission order. A failed file never stops the batch; a
// cancelled batch stops between files and skips the rest.
type TranscribeWorker struct {
	redis    *redis.Client
	db       *gorm.DB
	pipeline Transcriber
	hub      Broadcaster
}

// NewTranscribeWorker creates a new transcription worker
func NewTranscribeWorker(redisClient *redis.Client, db *gorm.DB, pipeline Transcriber, hub Broadcaster) *TranscribeWorker {
	return &TranscribeWorker{
		redis:    redisClient,
		db:       db,
		pipeline: pipeline,
		hub:      hub,
	}
}

// ProcessTask handles batch transcription task processing
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		BatchID string `json:"batchId"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	batchID := taskPayload.BatchID
	log.Info().Str("batch_id", batchID).Msg("starting batch")

	batch, err := w.getBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	// The batch may have been cancelled while it sat in the queue.
	if batch.Status == model.BatchStatusCancelled {
		w.finalizeCancelled(batch)
		return nil
	}

	batch.Status = model.BatchStatusProcessing
	w.persistBatch(ctx, batch)
	w.db.Model(&model.BatchJob{}).Where("id = ?", batchID).Update("status", batch.Status)
	w.hub.BroadcastBatchStatus(batch)

	for i := range batch.Files {
		// Cancellation is honored between files: the asynq context covers
		// task-level cancellation, the stored status covers a flag set while
		// this loop was busy.
		if ctx.Err() != nil || w.isCancelled(ctx, batchID) {
			w.finalizeCancelled(batch)
			return ctx.Err()
		}

		f := &batch.Files[i]
		if f.Status != model.FileStatusQueued {
			continue
		}

		batch.CurrentFileIndex = i
		f.Status = model.FileStatusProcessing
		w.persistBatch(ctx, batch)
		w.hub.BroadcastFileStart(batchID, f.ID, i, f.OriginalName)

		transcript, warning := w.processFile(ctx, batch, f)

		if f.Status == model.FileStatusCompleted {
			batch.CompletedFiles++
		} else {
			batch.FailedFiles++
			log.Warn().Str("batch_id", batchID).Str("file_id", f.ID).Str("error", f.ErrorMessage).Msg("file failed")
		}
		w.persistBatch(ctx, batch)
		w.persistFile(f)
		w.hub.BroadcastFileComplete(batchID, f, transcript, warning)
	}

	if ctx.Err() != nil || w.isCancelled(ctx, batchID) {
		w.finalizeCancelled(batch)
		return ctx.Err()
	}

	batch.Status = model.BatchStatusCompleted
	w.persistBatch(ctx, batch)
	w.db.Model(&model.BatchJob{}).Where("id = ?", batchID).Updates(map[string]interface{}{
		"status":             batch.Status,
		"completed_files":    batch.CompletedFiles,
		"failed_files":       batch.FailedFiles,
		"current_file_index": batch.CurrentFileIndex,
	})
	w.hub.BroadcastBatchStatus(batch)
	w.hub.BroadcastBatchComplete(batch)

	log.Info().
		Str("batch_id", batchID).
		Int("completed", batch.CompletedFiles).
		Int("failed", batch.FailedFiles).
		Msg("batch finished")
	return nil
}

// processFile drains the pipeline's event stream for one file and applies
// the terminal event to the record. A stream that ends without a terminal
// event means the run was torn down mid-file.
func (w *TranscribeWorker) processFile(ctx context.Context, batch *model.BatchJob, f *model.FileRecord) (transcript, warning string) {
	events := w.pipeline.Transcribe(ctx, transcriber.Request{
		Path:         f.FilePath,
		FileID:       f.ID,
		OriginalPath: f.OriginalPath,
	})

	terminal := false
	for ev := range events {
		switch ev.Status {
		case model.StageCompleted:
			terminal = true
			f.Status = model.FileStatusCompleted
			f.Progress = 100
			f.TranscriptPath = ev.OutputFile
			transcript = ev.Transcript
			warning = ev.Warning
		case model.StageError:
			terminal = true
			f.Status = model.FileStatusError
			f.ErrorMessage = ev.Error
		default:
			f.Progress = ev.Progress
			w.hub.BroadcastFileProgress(batch.ID, f.ID, ev)
			w.persistBatch(ctx, batch)
		}
	}
	if !terminal {
		f.Status = model.FileStatusError
		f.ErrorMessage = "transcription aborted"
	}
	return transcript, warning
}

// finalizeCancelled marks every still-queued file skipped and records the
// terminal state. Uses a fresh context: the task context is typically
// already cancelled when we get here.
func (w *TranscribeWorker) finalizeCancelled(batch *model.BatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range batch.Files {
		if batch.Files[i].Status == model.FileStatusQueued {
			batch.Files[i].Status = model.FileStatusSkipped
		}
	}
	batch.Status = model.BatchStatusCancelled
	w.persistBatch(ctx, batch)
	w.db.Model(&model.BatchJob{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
		"status":          batch.Status,
		"completed_files": batch.CompletedFiles,
		"failed_files":    batch.FailedFiles,
	})
	w.db.Model(&model.FileRecord{}).
		Where("batch_id = ? AND status = ?", batch.ID, model.FileStatusQueued).
		Update("status", model.FileStatusSkipped)
	w.hub.BroadcastBatchStatus(batch)

	log.Info().Str("batch_id", batch.ID).Msg("batch cancelled")
}

// isCancelled reports whether a cancel arrived while this loop was busy.
// The flag lives under its own key so the worker's own batch writes cannot
// erase it. Redis errors read as not cancelled; an unreachable Redis should
// not abort a batch that is otherwise making progress.
func (w *TranscribeWorker) isCancelled(ctx context.Context, batchID string) bool {
	n, err := w.redis.Exists(ctx, fmt.Sprintf("batch:%s:cancelled", batchID)).Result()
	if err == nil && n > 0 {
		return true
	}
	batch, err := w.getBatch(ctx, batchID)
	if err != nil {
		return false
	}
	return batch.Status == model.BatchStatusCancelled
}

// Helper methods

func (w *TranscribeWorker) persistBatch(ctx context.Context, batch *model.BatchJob) {
	data, err := json.Marshal(batch)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to marshal batch")
		return
	}
	if err := w.redis.Set(ctx, fmt.Sprintf("batch:%s", batch.ID), data, 24*time.Hour).Err(); err != nil {
		log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to save batch")
	}
}

func (w *TranscribeWorker) getBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	data, err := w.redis.Get(ctx, fmt.Sprintf("batch:%s", batchID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, service.ErrBatchNotFound
		}
		return nil, err
	}

	var batch model.BatchJob
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func (w *TranscribeWorker) persistFile(f *model.FileRecord) {
	err := w.db.Model(&model.FileRecord{}).Where("id = ?", f.ID).Updates(map[string]interface{}{
		"status":          f.Status,
		"progress":        f.Progress,
		"error_message":   f.ErrorMessage,
		"transcript_path": f.TranscriptPath,
	}).Error
	if err != nil {
		log.Error().Err(err).Str("file_id", f.ID).Msg("failed to persist file record")
	}
}
