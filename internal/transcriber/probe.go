package transcriber

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Prober inspects media files with ffprobe.
type Prober struct {
	runner  commandRunner
	binary  string
	timeout time.Duration
}

func NewProber(binary string, timeout time.Duration) *Prober {
	return &Prober{
		runner:  execRunner{},
		binary:  binary,
		timeout: timeout,
	}
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// HasAudioStream reports whether the file contains a decodable audio stream.
// A non-nil error means the probe itself could not run or produced
// unreadable output.
func (p *Prober) HasAudioStream(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.runner.Run(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	if err != nil {
		return false, err
	}
	if res.exitCode != 0 {
		// ffprobe rejects files it cannot parse; that is a negative verdict,
		// not a probe failure.
		return false, nil
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(res.stdout), &out); err != nil {
		return false, err
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

// Duration returns the media duration in seconds, or 0 when it cannot be
// determined. Callers treat 0 as "unknown" and fall back to whatever
// progress the engine reports directly.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.runner.Run(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil || res.exitCode != 0 {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.stdout), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
