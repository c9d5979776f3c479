package transcriber

import (
	"context"
)

// fakeRunner scripts external tool behavior for tests.
type fakeRunner struct {
	runFunc    func(ctx context.Context, name string, args ...string) (commandResult, error)
	streamFunc func(ctx context.Context, name string, args ...string) (*streamingCommand, error)
	calls      []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name)
	if f.runFunc != nil {
		return f.runFunc(ctx, name, args...)
	}
	return commandResult{}, nil
}

func (f *fakeRunner) Stream(ctx context.Context, name string, args ...string) (*streamingCommand, error) {
	f.calls = append(f.calls, name)
	if f.streamFunc != nil {
		return f.streamFunc(ctx, name, args...)
	}
	return newFakeStream(nil, nil), nil
}

// newFakeStream hands lines to the consumer one at a time and reports
// waitErr once they are drained, mirroring the ordering of the real runner.
func newFakeStream(lines []string, waitErr error) *streamingCommand {
	lc := make(chan string)
	dc := make(chan error, 1)
	go func() {
		for _, l := range lines {
			lc <- l
		}
		close(lc)
		dc <- waitErr
	}()
	return &streamingCommand{lines: lc, done: dc}
}
