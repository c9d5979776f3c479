package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gio888/whisper-transcription/internal/model"
)

const canonicalExt = ".wav"

// Request identifies one input for transcription.
type Request struct {
	// Path is the stored location of the audio file.
	Path string
	// FileID keys the transcript's default location in the output directory.
	FileID string
	// OriginalPath, when set, places the transcript beside that path instead
	// of in the output directory.
	OriginalPath string
}

// Pipeline composes validation, conversion, and recognition into a single
// per-file event stream.
type Pipeline struct {
	validator  *Validator
	converter  *Converter
	prober     *Prober
	engine     Engine
	scratchDir string
	outputDir  string
}

func NewPipeline(validator *Validator, converter *Converter, prober *Prober, engine Engine, scratchDir, outputDir string) *Pipeline {
	return &Pipeline{
		validator:  validator,
		converter:  converter,
		prober:     prober,
		engine:     engine,
		scratchDir: scratchDir,
		outputDir:  outputDir,
	}
}

// Transcribe runs the full pipeline for one file. The returned channel is
// lazy and single-use: it delivers ordered progress events and is closed
// after a terminal completed or error event. Cancelling the context stops
// the run and terminates any child process.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) <-chan model.ProgressEvent {
	out := make(chan model.ProgressEvent, 16)
	go func() {
		defer close(out)
		p.run(ctx, req, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, req Request, out chan<- model.ProgressEvent) {
	emit := func(ev model.ProgressEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string) {
		emit(model.ProgressEvent{Status: model.StageError, Error: msg})
	}

	if !emit(model.ProgressEvent{Status: model.StageValidating, Message: "Validating audio file..."}) {
		return
	}
	verdict := p.validator.Validate(ctx, req.Path)
	if !verdict.OK {
		fail(fmt.Sprintf("invalid audio file: %s", verdict.Reason))
		return
	}

	// Scratch artifacts are keyed by a per-run id, never by the input name,
	// so concurrent runs cannot collide.
	runID := uuid.New().String()

	wavPath := req.Path
	if strings.ToLower(filepath.Ext(req.Path)) != canonicalExt {
		wavPath = filepath.Join(p.scratchDir, runID+canonicalExt)
		// Registered before the conversion runs so a partial artifact from a
		// failed ffmpeg invocation is removed as well.
		defer os.Remove(wavPath)
		if !emit(model.ProgressEvent{Status: model.StageConverting, Message: "Converting to WAV format..."}) {
			return
		}
		if err := p.converter.Convert(ctx, req.Path, wavPath); err != nil {
			fail(err.Error())
			return
		}
		if !emit(model.ProgressEvent{Status: model.StageConverting, Progress: 100, Message: "Conversion complete"}) {
			return
		}
	}

	duration := p.prober.Duration(ctx, wavPath)

	outputStem := filepath.Join(p.scratchDir, runID)
	defer os.Remove(outputStem + ".txt")

	if !emit(model.ProgressEvent{Status: model.StageTranscribing, Message: "Starting transcription..."}) {
		return
	}
	result, err := p.engine.Transcribe(ctx, wavPath, outputStem, duration, func(pct int, msg string) {
		emit(model.ProgressEvent{Status: model.StageTranscribing, Progress: pct, Message: msg})
	})
	if err != nil {
		fail(err.Error())
		return
	}
	if result.Warning != "" {
		log.Warn().Str("file", req.Path).Msg(result.Warning)
	}

	dest := p.transcriptPath(req)
	if err := os.WriteFile(dest, []byte(result.Transcript+"\n"), 0o644); err != nil {
		fail(fmt.Sprintf("failed to save transcript: %v", err))
		return
	}

	emit(model.ProgressEvent{
		Status:     model.StageCompleted,
		Progress:   100,
		Message:    "Transcription complete",
		Transcript: result.Transcript,
		Warning:    result.Warning,
		OutputFile: dest,
	})
}

// transcriptPath resolves where the final transcript lives: beside the
// caller-supplied original location when given, otherwise in the output
// directory keyed by the file's identity.
func (p *Pipeline) transcriptPath(req Request) string {
	if req.OriginalPath != "" {
		dir := filepath.Dir(req.OriginalPath)
		base := strings.TrimSuffix(filepath.Base(req.OriginalPath), filepath.Ext(req.OriginalPath))
		return filepath.Join(dir, base+"_transcript.txt")
	}
	return filepath.Join(p.outputDir, req.FileID+"_transcript.txt")
}

// SweepScratch removes leftover conversion artifacts from dir. Scratch files
// only live while a batch is running, so anything present at startup is
// residue from an interrupted run.
func SweepScratch(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
