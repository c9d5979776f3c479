package transcriber

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestConverterBuildsCanonicalArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := &fakeRunner{runFunc: func(_ context.Context, name string, args ...string) (commandResult, error) {
		gotName = name
		gotArgs = args
		return commandResult{}, nil
	}}
	c := &Converter{runner: r, binary: "ffmpeg", timeout: time.Second}

	if err := c.Convert(context.Background(), "in.m4a", "out.wav"); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if gotName != "ffmpeg" {
		t.Errorf("binary = %q, want ffmpeg", gotName)
	}
	want := []string{"-i", "in.m4a", "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", "-y", "out.wav"}
	if !reflect.DeepEqual(gotArgs, want) {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
}

func TestConverterCarriesToolDiagnostics(t *testing.T) {
	const diag = "in.m4a: Invalid data found when processing input"
	r := &fakeRunner{runFunc: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{stderr: diag, exitCode: 1}, nil
	}}
	c := &Converter{runner: r, binary: "ffmpeg", timeout: time.Second}

	err := c.Convert(context.Background(), "in.m4a", "out.wav")
	if err == nil {
		t.Fatal("Convert() succeeded despite non-zero exit")
	}

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("error type = %T, want *ConversionError", err)
	}
	if convErr.Output != diag {
		t.Errorf("Output = %q, want %q", convErr.Output, diag)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("error message missing diagnostics: %q", err.Error())
	}
}

func TestConverterReportsMissingBinary(t *testing.T) {
	binErr := errors.New(`exec: "ffmpeg": executable file not found in $PATH`)
	r := &fakeRunner{runFunc: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{exitCode: -1}, binErr
	}}
	c := &Converter{runner: r, binary: "ffmpeg", timeout: time.Second}

	err := c.Convert(context.Background(), "in.m4a", "out.wav")
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("error type = %T, want *ConversionError", err)
	}
	if !errors.Is(err, binErr) {
		t.Errorf("underlying error not preserved: %v", err)
	}
}
