package encoder

import "fmt"

// CommandLog captures one encoder invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// EncodeError is a stage-aware encoder failure.
type EncodeError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	Timeout    bool       `json:"timeout"`
	Cancelled  bool       `json:"cancelled"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats encoder failures for logs and UI.
func (e *EncodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *EncodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExitCode returns the encoder exit status, or -1 when it never exited normally.
func (e *EncodeError) ExitCode() int {
	if e == nil {
		return 0
	}
	return e.CommandLog.ExitCode
}

// StderrTail returns the trimmed diagnostic output attached to the failure.
func (e *EncodeError) StderrTail() string {
	if e == nil {
		return ""
	}
	return e.CommandLog.Stderr
}
