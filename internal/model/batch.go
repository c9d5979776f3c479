package model

import "time"

// FileStatus is the lifecycle state of one file within a batch.
type FileStatus string

const (
	FileStatusQueued     FileStatus = "queued"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusError      FileStatus = "error"
	FileStatusSkipped    FileStatus = "skipped"
)

// BatchStatus is the lifecycle state of a batch job.
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "created"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// AudioFile describes an uploaded audio file on disk.
type AudioFile struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	OriginalPath string `json:"original_path,omitempty"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
}

// FileRecord tracks one audio file through a batch. A record transitions
// exactly once into a terminal state (completed or error); queued records
// left behind by a cancelled batch become skipped.
type FileRecord struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	BatchID        string     `json:"batch_id" gorm:"index"`
	OriginalName   string     `json:"original_name"`
	OriginalPath   string     `json:"original_path,omitempty"`
	FilePath       string     `json:"file_path"`
	Size           int64      `json:"size"`
	Status         FileStatus `json:"status"`
	Progress       int        `json:"progress"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TranscriptPath string     `json:"transcript_path,omitempty"`
}

func (FileRecord) TableName() string { return "files" }

// BatchJob is a set of files submitted together for sequential transcription.
// The live copy is held in Redis while the batch runs; a durable row is kept
// in the history database.
type BatchJob struct {
	ID               string       `json:"id" gorm:"primaryKey"`
	Status           BatchStatus  `json:"status"`
	TotalFiles       int          `json:"total_files"`
	CompletedFiles   int          `json:"completed_files"`
	FailedFiles      int          `json:"failed_files"`
	CurrentFileIndex int          `json:"current_file_index"`
	TaskID           string       `json:"task_id,omitempty"`
	Files            []FileRecord `json:"files" gorm:"foreignKey:BatchID"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (BatchJob) TableName() string { return "batches" }

// BatchFileInfo is the per-file summary returned by upload endpoints.
type BatchFileInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Size   int64      `json:"size"`
	Status FileStatus `json:"status"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	BatchID string        `json:"batch_id"`
	File    BatchFileInfo `json:"file"`
	Message string        `json:"message"`
}

// BatchUploadResponse is returned by POST /api/batch-upload.
type BatchUploadResponse struct {
	BatchID    string          `json:"batch_id"`
	FilesCount int             `json:"files_count"`
	Files      []BatchFileInfo `json:"files"`
}

// BatchStatusResponse is returned by GET /api/batches/:batchId.
type BatchStatusResponse struct {
	BatchID          string       `json:"batch_id"`
	Status           BatchStatus  `json:"status"`
	TotalFiles       int          `json:"total_files"`
	CompletedFiles   int          `json:"completed_files"`
	FailedFiles      int          `json:"failed_files"`
	CurrentFileIndex int          `json:"current_file_index"`
	CreatedAt        time.Time    `json:"created_at"`
	Files            []FileRecord `json:"files,omitempty"`
}

// BatchCancelResponse is returned by POST /api/batches/:batchId/cancel.
type BatchCancelResponse struct {
	BatchID string      `json:"batch_id"`
	Status  BatchStatus `json:"status"`
}

// BatchListResponse is returned by GET /api/batches.
type BatchListResponse struct {
	Batches []BatchJob `json:"batches"`
}

// ListBatchesRequest holds query parameters for GET /api/batches.
type ListBatchesRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}
