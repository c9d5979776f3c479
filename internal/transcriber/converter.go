package transcriber

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ConversionError reports a failed ffmpeg invocation, carrying the tool's
// diagnostic output.
type ConversionError struct {
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("conversion failed: %v", e.Err)
	}
	return fmt.Sprintf("conversion failed: %s", lastLine(out))
}

func (e *ConversionError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Converter normalizes audio containers to the canonical waveform: mono,
// 16kHz, 16-bit PCM WAV. whisper.cpp accepts nothing else.
type Converter struct {
	runner  commandRunner
	binary  string
	timeout time.Duration
}

func NewConverter(binary string, timeout time.Duration) *Converter {
	return &Converter{
		runner:  execRunner{},
		binary:  binary,
		timeout: timeout,
	}
}

// Convert writes the canonical waveform for input to outPath. The caller
// owns deletion of the produced artifact.
func (c *Converter) Convert(ctx context.Context, input, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.runner.Run(ctx, c.binary,
		"-i", input,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y", outPath,
	)
	if err != nil {
		return &ConversionError{Output: res.stderr, Err: err}
	}
	if res.exitCode != 0 {
		return &ConversionError{Output: res.stderr, Err: fmt.Errorf("ffmpeg exited with code %d", res.exitCode)}
	}
	return nil
}
