package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
	"reels-studio/internal/logging"
	"reels-studio/internal/pipeline"
)

// Stage labels that bracket the recipe stages in progress events.
const (
	StageStarting = "starting"
	StageComplete = "complete"
)

// maxStageFraction keeps interpolated progress below the stage checkpoint so
// 100 is only ever reported by a completed job.
const maxStageFraction = 0.99

// minProgressStep is the smallest interpolated advance worth publishing.
const minProgressStep = 1.0

// run drives one job to a terminal state. It is the only goroutine that
// publishes events for the job, which keeps them ordered.
func (c *Controller) run(st *jobState) {
	defer close(st.done)
	defer st.cancel()

	logger := c.logger.With(logging.String(logging.FieldJobID, st.id))
	started := time.Now()

	if st.ctx.Err() != nil {
		c.finishCancelled(st, logger, "", "")
		return
	}

	if convErr := c.checkInput(st.id, st.input); convErr != nil {
		c.finishFailed(st, logger, convErr)
		return
	}

	recipe, err := pipeline.Plan(st.preset, st.input)
	if err != nil {
		c.finishFailed(st, logger, &ConversionError{
			Kind:    KindInternal,
			JobID:   st.id,
			Message: "cannot plan conversion",
			Err:     err,
		})
		return
	}

	// Input checks can be slow; a job cancelled meanwhile is still pending.
	if st.ctx.Err() != nil {
		c.finishCancelled(st, logger, "", "")
		return
	}

	workDir, err := c.fs.createWorkDir(c.settings.WorkRoot, st.id)
	if err != nil {
		c.finishFailed(st, logger, &ConversionError{
			Kind:    KindInternal,
			JobID:   st.id,
			Message: "cannot create job workspace",
			Err:     err,
		})
		return
	}

	if _, err := c.manager.Transition(st.id, domain.JobStatusRunning, func(job *domain.ConversionJob) {
		job.WorkDir = workDir
	}); err != nil {
		c.cleanup(logger, workDir)
		c.finishFailed(st, logger, &ConversionError{
			Kind:    KindInternal,
			JobID:   st.id,
			Message: "job could not enter running state",
			Err:     err,
		})
		return
	}
	logger.Info("conversion started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("input", st.input),
		logging.String("quality", string(st.preset)),
		logging.String("work_dir", workDir),
	)
	c.emit(st.id, StageStarting, 0, domain.JobStatusRunning)

	duration := c.sourceDuration(st, logger)
	sampler := logging.NewProgressSampler(5)

	for i, stage := range recipe.Stages {
		if st.ctx.Err() != nil {
			c.cleanup(logger, workDir)
			c.finishCancelled(st, logger, stage.Name, workDir)
			return
		}

		_, _ = c.manager.Advance(st.id, i, stage.Name, recipe.StartPercent(i))
		if err := pipeline.CheckInputs(stage, workDir, c.fs.stat); err != nil {
			c.cleanup(logger, workDir)
			c.finishFailed(st, logger, artifactFailure(st.id, stage, err, false))
			return
		}

		logger.Info("stage started",
			logging.String(logging.FieldStage, stage.Name),
			logging.String(logging.FieldEventType, "stage_started"),
			logging.Int("stage_index", i),
		)
		stageStarted := time.Now()
		lastPublished := recipe.StartPercent(i)

		onProgress := func(outTime time.Duration) {
			if duration <= 0 {
				return
			}
			fraction := min(float64(outTime)/float64(duration), maxStageFraction)
			percent := recipe.PercentWithin(i, fraction)
			if percent-lastPublished < minProgressStep {
				return
			}
			lastPublished = percent
			_, _ = c.manager.Advance(st.id, i, stage.Name, percent)
			c.emit(st.id, stage.Name, percent, domain.JobStatusRunning)
			if sampler.ShouldLog(percent, stage.Name) {
				logger.Debug("stage progress",
					logging.String(logging.FieldStage, stage.Name),
					logging.Float64("percent", percent),
				)
			}
		}

		_, invokeErr := c.encoder.Invoke(st.ctx, stage, workDir, onProgress)
		if invokeErr != nil {
			c.cleanup(logger, workDir)
			if st.ctx.Err() != nil {
				c.finishCancelled(st, logger, stage.Name, workDir)
				return
			}
			c.finishFailed(st, logger, encodeFailure(st.id, stage.Name, invokeErr))
			return
		}

		final := i == len(recipe.Stages)-1
		if err := pipeline.CheckOutput(stage, workDir, c.fs.stat); err != nil {
			c.cleanup(logger, workDir)
			c.finishFailed(st, logger, artifactFailure(st.id, stage, err, final))
			return
		}

		logger.Info("stage completed",
			logging.String(logging.FieldStage, stage.Name),
			logging.String(logging.FieldEventType, "stage_completed"),
			logging.Duration("elapsed", time.Since(stageStarted)),
		)
		if !final {
			_, _ = c.manager.Advance(st.id, i, stage.Name, stage.Checkpoint)
			c.emit(st.id, stage.Name, stage.Checkpoint, domain.JobStatusRunning)
		}
	}

	artifact := recipe.Final().OutputPath(workDir)
	outputDir := c.settings.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(st.input)
	}
	outputPath, err := c.fs.deliver(artifact, outputDir, st.input)
	c.cleanup(logger, workDir)
	if err != nil {
		c.finishFailed(st, logger, &ConversionError{
			Kind:    KindInternal,
			JobID:   st.id,
			Stage:   recipe.Final().Name,
			Message: "cannot deliver converted video",
			Err:     err,
		})
		return
	}

	var size int64
	if info, err := c.fs.stat(outputPath); err == nil {
		size = info.Size()
	}
	st.result = Result{
		JobID:      st.id,
		OutputPath: outputPath,
		SizeBytes:  size,
		Elapsed:    time.Since(started),
	}

	if _, err := c.manager.Transition(st.id, domain.JobStatusCompleted, func(job *domain.ConversionJob) {
		job.StageIndex = len(recipe.Stages) - 1
		job.Stage = StageComplete
		job.Percent = 100
		job.OutputPath = outputPath
		job.WorkDir = ""
	}); err != nil {
		logger.Error("completed job rejected transition", logging.Error(err))
	}
	logger.Info("conversion completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("output", outputPath),
		logging.Int64("size_bytes", size),
		logging.Duration("elapsed", st.result.Elapsed),
	)
	c.emit(st.id, StageComplete, 100, domain.JobStatusCompleted)
	c.release(st, logger)
}

// sourceDuration probes the input for interpolated progress. Failures only
// disable interpolation.
func (c *Controller) sourceDuration(st *jobState, logger *slog.Logger) time.Duration {
	if c.prober == nil {
		return 0
	}
	result, err := c.prober.Inspect(st.ctx, st.input)
	if err != nil {
		logger.Debug("source probe failed; progress limited to checkpoints", logging.Error(err))
		return 0
	}
	return result.Duration()
}

// cleanup removes the job workspace. Failures are logged, never returned.
func (c *Controller) cleanup(logger *slog.Logger, workDir string) {
	if workDir == "" {
		return
	}
	if err := c.fs.removeAll(workDir); err != nil {
		logger.Warn("workspace cleanup failed",
			logging.String(logging.FieldEventType, "cleanup_failed"),
			logging.String("error_kind", string(KindCleanupFailed)),
			logging.String("work_dir", workDir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
		)
	}
}

func (c *Controller) finishFailed(st *jobState, logger *slog.Logger, convErr *ConversionError) {
	st.err = convErr
	job, err := c.manager.Transition(st.id, domain.JobStatusFailed, func(job *domain.ConversionJob) {
		job.ErrorKind = string(convErr.Kind)
		job.ErrorMessage = convErr.Error()
		job.WorkDir = ""
	})
	if err != nil {
		logger.Error("failed job rejected transition", logging.Error(err))
	}
	logger.Error("conversion failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldStage, convErr.Stage),
		logging.String("error_kind", string(convErr.Kind)),
		logging.Int("exit_code", convErr.ExitCode),
		logging.String("stderr", convErr.Stderr),
		logging.Error(convErr),
		logging.String(logging.FieldErrorHint, failureHint(convErr.Kind)),
	)
	c.emit(st.id, stageOr(convErr.Stage, job.Stage), job.Percent, domain.JobStatusFailed)
	c.release(st, logger)
}

func (c *Controller) finishCancelled(st *jobState, logger *slog.Logger, stage, workDir string) {
	st.err = &ConversionError{
		Kind:    KindCancelled,
		JobID:   st.id,
		Stage:   stage,
		Message: "conversion cancelled",
		Err:     st.ctx.Err(),
	}
	job, err := c.manager.Transition(st.id, domain.JobStatusCancelled, func(job *domain.ConversionJob) {
		job.ErrorKind = string(KindCancelled)
		job.WorkDir = ""
	})
	if err != nil {
		logger.Error("cancelled job rejected transition", logging.Error(err))
	}
	logger.Info("conversion cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String(logging.FieldStage, stage),
		logging.Bool("had_workspace", workDir != ""),
	)
	c.emit(st.id, stageOr(stage, job.Stage), job.Percent, domain.JobStatusCancelled)
	c.release(st, logger)
}

// release ends the job's progress stream and, with AutoDiscard, frees its input.
func (c *Controller) release(st *jobState, logger *slog.Logger) {
	c.hub.Close(st.id)
	if !c.autoDiscard {
		return
	}
	if err := c.registry.Unregister(st.input, st.id); err != nil {
		logger.Warn("input lock release failed", logging.Error(err))
	}
}

func (c *Controller) emit(jobID, stage string, percent float64, status domain.JobStatus) {
	ev, ok := c.hub.Publish(domain.ProgressEvent{
		JobID:   jobID,
		Stage:   stage,
		Percent: percent,
		Status:  status,
	})
	if ok && c.onEvent != nil {
		c.onEvent(ev)
	}
}

func encodeFailure(jobID, stage string, err error) *ConversionError {
	convErr := &ConversionError{
		Kind:    KindEncodeFailed,
		JobID:   jobID,
		Stage:   stage,
		Message: err.Error(),
		Err:     err,
	}
	var encodeErr *encoder.EncodeError
	if errors.As(err, &encodeErr) {
		convErr.Message = encodeErr.Message
		convErr.ExitCode = encodeErr.ExitCode()
		convErr.Stderr = encodeErr.StderrTail()
		convErr.Timeout = encodeErr.Timeout
	}
	return convErr
}

func artifactFailure(jobID string, stage pipeline.Stage, err error, final bool) *ConversionError {
	kind := KindStageOutputMissing
	message := err.Error()
	var artifactErr *pipeline.ArtifactError
	if errors.As(err, &artifactErr) && artifactErr.Empty && final {
		kind = KindEmptyOutput
		message = fmt.Sprintf("encoder exited successfully but wrote an empty %s", filepath.Base(artifactErr.Path))
	}
	return &ConversionError{
		Kind:    kind,
		JobID:   jobID,
		Stage:   stage.Name,
		Message: message,
		Err:     err,
	}
}

func failureHint(kind ErrorKind) string {
	switch kind {
	case KindInputNotFound:
		return "check that the input file exists and is readable"
	case KindUnsupportedInput:
		return "choose a video file (mp4, mov, mkv, webm)"
	case KindEncodeFailed:
		return "see stderr; run diagnostics to verify ffmpeg"
	case KindStageOutputMissing, KindEmptyOutput:
		return "ffmpeg produced no usable output; check free disk space in the work root"
	default:
		return ""
	}
}

func stageOr(stage, fallback string) string {
	if stage != "" {
		return stage
	}
	if fallback != "" {
		return fallback
	}
	return StageStarting
}
