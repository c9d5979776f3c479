package transcriber

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// killGracePeriod is how long a child gets to exit after SIGTERM before it
// is killed outright.
const killGracePeriod = 5 * time.Second

// commandResult captures the outcome of a completed external command.
type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
}

// streamingCommand is a started external command whose stderr is delivered
// line by line. lines is closed when stderr is drained; done then receives
// the wait result.
type streamingCommand struct {
	lines <-chan string
	done  <-chan error
}

// commandRunner abstracts external tool execution so tests can script tool
// behavior without real binaries.
type commandRunner interface {
	// Run executes a command to completion and captures its output. A non-nil
	// error means the command could not be run at all; tool failures are
	// reported through the exit code.
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
	// Stream starts a command and exposes its stderr as a line stream.
	Stream(ctx context.Context, name string, args ...string) (*streamingCommand, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		res.exitCode = -1
		return res, err
	}
	return res, nil
}

func (execRunner) Stream(ctx context.Context, name string, args ...string) (*streamingCommand, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	lines := make(chan string, 64)
	done := make(chan error, 1)

	go func() {
		defer func() {
			close(lines)
			done <- cmd.Wait()
		}()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				// Consumer is gone; keep draining so Wait can reap the
				// killed child.
				for scanner.Scan() {
				}
				return
			}
		}
	}()

	return &streamingCommand{lines: lines, done: done}, nil
}

// setProcessGroup puts the child in its own process group and arranges for
// context cancellation to terminate the whole group, not just the direct
// child. ffmpeg and whisper.cpp may fork helpers that would otherwise
// outlive a kill.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod
}
