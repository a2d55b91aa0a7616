package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// killGrace bounds how long Wait lingers on output pipes after a kill.
const killGrace = 5 * time.Second

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
//
// onStdoutLine, when non-nil, receives stdout one line at a time while the
// process runs. Cancelling ctx must terminate the process.
type commandRunner interface {
	Run(ctx context.Context, onStdoutLine func(string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(
	ctx context.Context,
	onStdoutLine func(string),
	name string,
	args ...string,
) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	var stderr tailBuffer
	cmd.Stderr = &stderr

	var pipe io.ReadCloser
	if onStdoutLine != nil {
		var err error
		pipe, err = cmd.StdoutPipe()
		if err != nil {
			return commandResult{ExitCode: -1}, err
		}
	} else {
		cmd.Stdout = &stdout
	}

	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1, Stderr: err.Error()}, err
	}

	if pipe != nil {
		scanner := bufio.NewScanner(pipe)
		for scanner.Scan() {
			onStdoutLine(scanner.Text())
		}
		// Drain anything the scanner refused so the child never blocks on write.
		_, _ = io.Copy(io.Discard, pipe)
	}

	err := cmd.Wait()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// maxCapturedStderr caps retained stderr; ffmpeg can be very chatty.
const maxCapturedStderr = 64 * 1024

// tailBuffer keeps only the most recent maxCapturedStderr bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxCapturedStderr; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Diagnostic tail limits attached to encode errors.
const (
	stderrTailBytes = 4 * 1024
	stderrTailLines = 20
)

// stderrTail trims encoder output to the lines most likely to explain a failure.
func stderrTail(stderr string) string {
	trimmed := strings.TrimRight(stderr, "\r\n\t ")
	if len(trimmed) > stderrTailBytes {
		trimmed = trimmed[len(trimmed)-stderrTailBytes:]
		if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.Join(lines, "\n")
}
