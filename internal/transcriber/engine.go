package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrTimeout is returned when a recognition run exceeds the wall-clock
// ceiling and the child has been terminated.
var ErrTimeout = errors.New("transcription wall-clock limit exceeded")

// placeholderTranscript is substituted when the engine exits cleanly but the
// declared output file is missing.
const placeholderTranscript = "[Transcription completed but no output was produced]"

// EngineResult is the outcome of one recognition run. Warning is non-empty
// when the transcript is a placeholder rather than real engine output.
type EngineResult struct {
	Transcript string
	Warning    string
}

// Engine runs speech recognition on a canonical waveform, emitting
// transcribing progress through the callback as it goes. outputStem is the
// run-scoped path prefix the engine writes its text output to.
type Engine interface {
	Transcribe(ctx context.Context, wavPath, outputStem string, duration float64, emit func(progress int, message string)) (EngineResult, error)
}

// EngineConfig holds the fixed invocation contract for whisper.cpp.
type EngineConfig struct {
	BinaryPath  string
	ModelPath   string
	Language    string
	Threads     int
	Processors  int
	LineTimeout time.Duration // max wait for the next stderr line before re-polling
	MaxRuntime  time.Duration // hard wall-clock ceiling for one run
}

// WhisperEngine drives the whisper.cpp executable and interprets its
// interleaved diagnostic stream into structured progress.
type WhisperEngine struct {
	runner commandRunner
	cfg    EngineConfig
}

func NewWhisperEngine(cfg EngineConfig) *WhisperEngine {
	return &WhisperEngine{
		runner: execRunner{},
		cfg:    cfg,
	}
}

func (e *WhisperEngine) Transcribe(ctx context.Context, wavPath, outputStem string, duration float64, emit func(int, string)) (EngineResult, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxRuntime)
	defer cancel()

	args := []string{
		"-m", e.cfg.ModelPath,
		"-f", wavPath,
		"-l", e.cfg.Language,
		"-t", strconv.Itoa(e.cfg.Threads),
		"-p", strconv.Itoa(e.cfg.Processors),
		"-otxt",
		"-of", outputStem,
		"--print-progress",
	}
	stream, err := e.runner.Stream(ctx, e.cfg.BinaryPath, args...)
	if err != nil {
		return EngineResult{}, fmt.Errorf("failed to start recognition engine: %w", err)
	}

	waitErr := e.consume(ctx, stream, duration, emit)

	if parent.Err() != nil {
		return EngineResult{}, parent.Err()
	}
	if ctx.Err() != nil {
		return EngineResult{}, fmt.Errorf("%w after %s", ErrTimeout, e.cfg.MaxRuntime)
	}
	if waitErr != nil {
		return EngineResult{}, fmt.Errorf("recognition engine failed: %w", waitErr)
	}

	data, err := os.ReadFile(outputStem + ".txt")
	if err != nil {
		if os.IsNotExist(err) {
			// The engine reported success but wrote nothing. Keep the file
			// alive with a placeholder and let the caller surface the
			// warning instead of failing the whole run.
			return EngineResult{
				Transcript: placeholderTranscript,
				Warning:    "recognition engine exited cleanly but produced no output file",
			}, nil
		}
		return EngineResult{}, fmt.Errorf("failed to read transcript: %w", err)
	}
	return EngineResult{Transcript: strings.TrimSpace(string(data))}, nil
}

// consume drains the engine's stderr stream until the process exits. Each
// read is bounded by the per-line timeout: a stalled-but-alive engine is
// simply polled again rather than aborted.
func (e *WhisperEngine) consume(ctx context.Context, stream *streamingCommand, duration float64, emit func(int, string)) error {
	parser := newProgressParser(duration)
	lines := stream.lines
	timer := time.NewTimer(e.cfg.LineTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.cfg.LineTimeout)

		select {
		case line, ok := <-lines:
			if !ok {
				// stderr drained; only the exit status remains.
				lines = nil
				continue
			}
			if pct, ok := parser.parse(line); ok {
				emit(pct, "Transcribing audio...")
			}
		case err := <-stream.done:
			return err
		case <-timer.C:
			// No output within the window. The process may legitimately be
			// deep in compute; keep polling. The wall-clock context is what
			// ends a truly stuck run.
		}
	}
}

var (
	percentPattern   = regexp.MustCompile(`(\d+)%`)
	timestampPattern = regexp.MustCompile(`\[(\d{2}):(\d{2}):(\d{2})\.(\d{3})`)
)

// progressParser turns whisper.cpp stderr lines into percentages. Values are
// filtered to be strictly increasing so interleaved output never moves
// progress backwards.
type progressParser struct {
	duration float64
	last     int
}

func newProgressParser(duration float64) *progressParser {
	return &progressParser{duration: duration}
}

func (p *progressParser) parse(line string) (int, bool) {
	// Explicit progress markers, e.g.
	// "whisper_print_progress_callback: progress =  15%".
	if strings.Contains(line, "progress") || strings.Contains(line, "whisper_full") {
		if m := percentPattern.FindStringSubmatch(line); m != nil {
			pct, err := strconv.Atoi(m[1])
			if err == nil && pct <= 100 {
				return p.advance(pct)
			}
			return 0, false
		}
	}

	// Segment timestamps, e.g. "[00:01:30.000 --> 00:01:34.500] ...".
	// Elapsed position over total duration approximates progress, capped at
	// 99 until the process actually exits.
	if p.duration > 0 {
		if m := timestampPattern.FindStringSubmatch(line); m != nil {
			hh, _ := strconv.Atoi(m[1])
			mm, _ := strconv.Atoi(m[2])
			ss, _ := strconv.Atoi(m[3])
			ms, _ := strconv.Atoi(m[4])
			elapsed := float64(hh*3600+mm*60+ss) + float64(ms)/1000
			pct := int(elapsed / p.duration * 100)
			if pct > 99 {
				pct = 99
			}
			return p.advance(pct)
		}
	}
	return 0, false
}

func (p *progressParser) advance(pct int) (int, bool) {
	if pct <= p.last {
		return 0, false
	}
	p.last = pct
	return pct, true
}
