package transcriber

import (
	"context"
	"fmt"
	"os"
)

// Verdict is the outcome of validating one input file.
type Verdict struct {
	OK     bool
	Reason string
}

// Validator rejects malformed or empty inputs before expensive work begins.
// It never returns an error: probe failures become negative verdicts.
type Validator struct {
	prober   *Prober
	minBytes int64
}

func NewValidator(prober *Prober, minBytes int64) *Validator {
	return &Validator{
		prober:   prober,
		minBytes: minBytes,
	}
}

// Validate checks the file's size and, only if that passes, probes it for an
// audio stream. Undersized inputs are rejected without invoking any
// external tool.
func (v *Validator) Validate(ctx context.Context, path string) Verdict {
	info, err := os.Stat(path)
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}
	if info.Size() < v.minBytes {
		return Verdict{Reason: fmt.Sprintf("file too small: %d bytes, minimum is %d", info.Size(), v.minBytes)}
	}

	ok, err := v.prober.HasAudioStream(ctx, path)
	if err != nil {
		return Verdict{Reason: fmt.Sprintf("audio probe failed: %v", err)}
	}
	if !ok {
		return Verdict{Reason: "no audio stream found"}
	}
	return Verdict{OK: true}
}
