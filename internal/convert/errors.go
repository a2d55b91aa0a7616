package convert

import (
	"errors"
	"fmt"
	"strings"

	"reels-studio/internal/jobs"
)

// ErrorKind classifies why a conversion did not complete.
type ErrorKind string

const (
	KindAlreadyInProgress  ErrorKind = "already_in_progress"
	KindInputNotFound      ErrorKind = "input_not_found"
	KindUnsupportedInput   ErrorKind = "unsupported_input"
	KindStageOutputMissing ErrorKind = "stage_output_missing"
	KindEncodeFailed       ErrorKind = "encode_failed"
	KindEmptyOutput        ErrorKind = "empty_output"
	KindCancelled          ErrorKind = "cancelled"
	KindCleanupFailed      ErrorKind = "cleanup_failed"
	KindInternal           ErrorKind = "internal"
)

var (
	// ErrJobNotFound is returned for unknown or discarded job IDs.
	ErrJobNotFound = jobs.ErrJobNotFound
	// ErrJobNotTerminal is returned when discarding a job that is still active.
	ErrJobNotTerminal = jobs.ErrJobNotTerminal
	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("conversion controller is shutting down")
)

// ConversionError is the typed failure result of a job.
type ConversionError struct {
	Kind     ErrorKind `json:"kind"`
	JobID    string    `json:"jobId,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Message  string    `json:"message"`
	ExitCode int       `json:"exitCode,omitempty"`
	Stderr   string    `json:"stderr,omitempty"`
	Timeout  bool      `json:"timeout,omitempty"`
	Err      error     `json:"-"`
}

// Error formats conversion failures for logs and UI.
func (e *ConversionError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit=%d)", e.ExitCode)
	}
	return b.String()
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ConversionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a
// conversion failure.
func KindOf(err error) ErrorKind {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Kind
	}
	return ""
}

// IsCancelled reports whether err is a caller-initiated cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
