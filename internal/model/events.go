package model

// StageStatus is the pipeline stage reported by a progress event.
type StageStatus string

const (
	StageValidating   StageStatus = "validating"
	StageConverting   StageStatus = "converting"
	StageTranscribing StageStatus = "transcribing"
	StageCompleted    StageStatus = "completed"
	StageError        StageStatus = "error"
)

// ProgressEvent is a single update emitted by the transcription pipeline.
// Events are streamed, never stored, and every field is a primitive so the
// transport layer can serialize them directly.
type ProgressEvent struct {
	Status     StageStatus `json:"status"`
	Progress   int         `json:"progress"`
	Message    string      `json:"message,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Error      string      `json:"error,omitempty"`
	Warning    string      `json:"warning,omitempty"`
	OutputFile string      `json:"output_file,omitempty"`
}

// WebSocket message types
const (
	WSTypeBatchStatus   = "batch_status"
	WSTypeFileStart     = "file_start"
	WSTypeFileProgress  = "file_progress"
	WSTypeFileComplete  = "file_complete"
	WSTypeBatchComplete = "batch_complete"
	WSTypePing          = "ping"
	WSTypePong          = "pong"
)

// WSMessage is a minimal frame used for client keep-alive traffic.
type WSMessage struct {
	Type string `json:"type"`
}

// WSBatchStatus reports the overall state of a batch. Sent as a snapshot on
// connect and whenever the batch changes state.
type WSBatchStatus struct {
	Type             string      `json:"type"`
	BatchID          string      `json:"batch_id"`
	Status           BatchStatus `json:"status"`
	TotalFiles       int         `json:"total_files"`
	CompletedFiles   int         `json:"completed_files"`
	FailedFiles      int         `json:"failed_files"`
	CurrentFileIndex int         `json:"current_file_index"`
}

// WSFileStart announces that processing of one file has begun.
type WSFileStart struct {
	Type      string `json:"type"`
	BatchID   string `json:"batch_id"`
	FileID    string `json:"file_id"`
	FileIndex int    `json:"file_index"`
	FileName  string `json:"file_name"`
}

// WSFileProgress relays one pipeline progress event for a file.
type WSFileProgress struct {
	Type     string      `json:"type"`
	BatchID  string      `json:"batch_id"`
	FileID   string      `json:"file_id"`
	Status   StageStatus `json:"status"`
	Progress int         `json:"progress"`
	Message  string      `json:"message,omitempty"`
}

// WSFileComplete reports the terminal outcome of one file. The transcript
// body is included when available so consumers can persist it without a
// second read.
type WSFileComplete struct {
	Type           string     `json:"type"`
	BatchID        string     `json:"batch_id"`
	FileID         string     `json:"file_id"`
	Status         FileStatus `json:"status"`
	Progress       int        `json:"progress"`
	Transcript     string     `json:"transcript,omitempty"`
	TranscriptPath string     `json:"transcript_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	Warning        string     `json:"warning,omitempty"`
}

// WSBatchComplete is the summary sent exactly once after the last file.
type WSBatchComplete struct {
	Type           string `json:"type"`
	BatchID        string `json:"batch_id"`
	TotalFiles     int    `json:"total_files"`
	CompletedFiles int    `json:"completed_files"`
	FailedFiles    int    `json:"failed_files"`
}
