package transcriber

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// MockEngine produces deterministic transcripts without invoking the
// external binary. It emits the same event shape as the real engine, so
// callers cannot tell the two apart; used when whisper.cpp or its model is
// unavailable and for hermetic tests.
type MockEngine struct {
	// StepDelay is the pause between progress steps. Zero means no pause.
	StepDelay time.Duration
}

func (e *MockEngine) Transcribe(ctx context.Context, wavPath, outputStem string, duration float64, emit func(int, string)) (EngineResult, error) {
	for _, pct := range []int{5, 25, 50, 75, 95} {
		select {
		case <-ctx.Done():
			return EngineResult{}, ctx.Err()
		default:
		}
		emit(pct, "Transcribing audio...")
		if e.StepDelay > 0 {
			time.Sleep(e.StepDelay)
		}
	}
	transcript := fmt.Sprintf("This is a mock transcript for %s. The speech recognition engine was not invoked.", filepath.Base(wavPath))
	return EngineResult{Transcript: transcript}, nil
}
