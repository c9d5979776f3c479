package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gio888/whisper-transcription/internal/model"
)

// Upload failures the handler maps to specific response codes.
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds the size limit")
)

// allowedExtensions mirrors what the conversion step can actually decode.
var allowedExtensions = map[string]bool{
	".m4a": true,
	".mp3": true,
	".wav": true,
	".aac": true,
	".mp4": true,
}

// UploadService stores incoming audio files on local disk. Stored names are
// fresh ids so uploads with identical names never collide.
type UploadService struct {
	uploadDir   string
	maxFileSize int64
}

func NewUploadService(uploadDir string, maxFileSize int64) *UploadService {
	return &UploadService{
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
	}
}

// SaveAudio writes one uploaded file into the upload directory, preserving
// the original extension.
func (s *UploadService) SaveAudio(name string, size int64, r io.Reader) (*model.AudioFile, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if size > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id+ext)

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	written, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if written > s.maxFileSize {
		os.Remove(path)
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, written)
	}

	return &model.AudioFile{
		ID:           id,
		OriginalName: filepath.Base(name),
		Path:         path,
		Size:         written,
		Extension:    ext,
	}, nil
}

// Remove deletes a stored upload. Missing files are not an error.
func (s *UploadService) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanStale removes uploads older than maxAge and returns how many were
// deleted. Run at startup and on the cleanup interval so abandoned batches
// do not fill the disk.
func (s *UploadService) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.uploadDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
