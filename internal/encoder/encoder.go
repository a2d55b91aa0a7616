// Package encoder wraps the ffmpeg executable behind a single Invoke call per
// pipeline stage.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reels-studio/internal/logging"
	"reels-studio/internal/pipeline"
)

// ProgressFunc receives the media position the encoder has written so far.
type ProgressFunc func(outTime time.Duration)

// Options configures an Adapter.
type Options struct {
	Binary       string
	VideoCodec   string
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Adapter runs pipeline stages through ffmpeg.
type Adapter struct {
	binary       string
	stageTimeout time.Duration
	runner       commandRunner
	logger       *slog.Logger

	mu         sync.Mutex
	videoCodec string
}

// New constructs the production adapter.
func New(opts Options) *Adapter {
	return newAdapter(opts, &execRunner{})
}

// NewForTests constructs an adapter with an injectable runner.
func NewForTests(opts Options, runner commandRunner) *Adapter {
	return newAdapter(opts, runner)
}

func newAdapter(opts Options, runner commandRunner) *Adapter {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	codec := opts.VideoCodec
	if codec == "" {
		codec = CodecX264
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{
		binary:       binary,
		videoCodec:   codec,
		stageTimeout: opts.StageTimeout,
		runner:       runner,
		logger:       logging.NewComponentLogger(logger, "encoder"),
	}
}

// Binary reports the executable the adapter invokes.
func (a *Adapter) Binary() string {
	return a.binary
}

// VideoCodec reports the video codec the adapter encodes with.
func (a *Adapter) VideoCodec() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.videoCodec
}

// fallBackToSoftware switches later stages to libx264 once NVENC has failed.
func (a *Adapter) fallBackToSoftware() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.videoCodec = CodecX264
}

// Invoke runs one stage to completion. A nil error means ffmpeg exited zero;
// artifact verification is left to the caller.
func (a *Adapter) Invoke(
	ctx context.Context,
	stage pipeline.Stage,
	workDir string,
	onProgress ProgressFunc,
) (CommandLog, error) {
	codec := a.VideoCodec()
	args := BuildArgs(stage, workDir, codec)

	stageCtx := ctx
	if a.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, a.stageTimeout)
		defer cancel()
	}

	var parser progressParser
	onLine := func(line string) {
		report, ok := parser.Feed(line)
		if ok && onProgress != nil {
			onProgress(report.OutTime)
		}
	}

	a.logger.Debug("encoder stage started",
		logging.String(logging.FieldStage, stage.Name),
		logging.String("command", a.binary),
		logging.String("args", strings.Join(args, " ")),
	)
	started := time.Now()
	result, runErr := a.runner.Run(stageCtx, onLine, a.binary, args...)
	if runErr != nil && codec == CodecNVENC && stageCtx.Err() == nil {
		// A listed and verified NVENC can still fail once real frames arrive.
		a.logger.Warn("nvenc encode failed, retrying with libx264",
			logging.String(logging.FieldStage, stage.Name),
			logging.Int("exit_code", result.ExitCode),
			logging.String("stderr", stderrTail(result.Stderr)),
		)
		a.fallBackToSoftware()
		args = BuildArgs(stage, workDir, CodecX264)
		parser = progressParser{}
		result, runErr = a.runner.Run(stageCtx, onLine, a.binary, args...)
	}
	log := CommandLog{
		Command:  a.binary,
		Args:     args,
		ExitCode: result.ExitCode,
		Stderr:   stderrTail(result.Stderr),
	}
	if runErr == nil {
		a.logger.Debug("encoder stage finished",
			logging.String(logging.FieldStage, stage.Name),
			logging.Duration("elapsed", time.Since(started)),
		)
		return log, nil
	}

	encodeErr := &EncodeError{
		Stage:      stage.Name,
		CommandLog: log,
		Err:        runErr,
	}
	switch {
	case ctx.Err() != nil:
		encodeErr.Cancelled = true
		encodeErr.Message = "encoder interrupted"
		encodeErr.Err = errors.Join(ctx.Err(), runErr)
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		encodeErr.Timeout = true
		encodeErr.Message = fmt.Sprintf("encoder timed out after %s", a.stageTimeout)
		encodeErr.Err = errors.Join(context.DeadlineExceeded, runErr)
	case result.ExitCode > 0:
		encodeErr.Message = fmt.Sprintf("ffmpeg exited with status %d", result.ExitCode)
	default:
		encodeErr.Message = "failed to run ffmpeg"
	}
	return log, encodeErr
}
