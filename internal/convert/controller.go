// Package convert runs vertical-reels conversion jobs end to end.
//
// A Controller owns the job lifecycle: it claims the input in the session
// registry, prepares an exclusive workspace, drives each pipeline stage
// through the encoder, publishes progress, delivers the result and always
// removes the workspace before the job leaves the running state.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
	"reels-studio/internal/jobs"
	"reels-studio/internal/logging"
	"reels-studio/internal/pipeline"
	"reels-studio/internal/probe"
	"reels-studio/internal/progress"
)

// StageEncoder runs one pipeline stage to completion.
type StageEncoder interface {
	Invoke(ctx context.Context, stage pipeline.Stage, workDir string, onProgress encoder.ProgressFunc) (encoder.CommandLog, error)
}

// MediaProber reports source media metadata.
type MediaProber interface {
	Inspect(ctx context.Context, path string) (probe.Result, error)
}

// Options configures a Controller.
type Options struct {
	Logger *slog.Logger
	// Encoder defaults to an ffmpeg adapter built from the settings.
	Encoder StageEncoder
	// Prober enables fine-grained progress; nil keeps checkpoint-only updates.
	Prober MediaProber
	// AutoDiscard frees the input as soon as a job is terminal. The job
	// record stays readable until Discard.
	AutoDiscard bool
	// OnEvent observes every delivered progress event on the job goroutine.
	OnEvent func(domain.ProgressEvent)
	// SubscriberBuffer sizes each progress subscription queue.
	SubscriberBuffer int
	// DisableFileLock skips the cross-process input lock under the work root.
	DisableFileLock bool
}

// Result is the successful outcome of a job.
type Result struct {
	JobID      string        `json:"jobId"`
	OutputPath string        `json:"outputPath"`
	SizeBytes  int64         `json:"sizeBytes"`
	Elapsed    time.Duration `json:"elapsed"`
}

// jobState is the controller-private handle of one job.
type jobState struct {
	id      string
	input   string
	preset  domain.QualityPreset
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
	err     *ConversionError
	created time.Time
}

// Controller starts, tracks and cancels conversion jobs.
type Controller struct {
	settings    domain.Settings
	encoder     StageEncoder
	prober      MediaProber
	autoDiscard bool
	onEvent     func(domain.ProgressEvent)
	logger      *slog.Logger

	manager  *jobs.Manager
	registry *jobs.Registry
	hub      *progress.Hub
	fs       fileSystem
	sniff    sniffFunc
	newID    func() string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	states  map[string]*jobState
	closing bool
}

// NewController constructs a controller for the given settings.
func NewController(settings domain.Settings, opts Options) *Controller {
	logger := logging.NewComponentLogger(opts.Logger, "convert")

	enc := opts.Encoder
	if enc == nil {
		enc = encoder.New(encoder.Options{
			Binary:       settings.FFmpegPath,
			StageTimeout: settings.StageTimeout(),
			Logger:       opts.Logger,
		})
	}

	lockDir := ""
	if !opts.DisableFileLock && settings.WorkRoot != "" {
		lockDir = filepath.Join(settings.WorkRoot, "locks")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Controller{
		settings:    settings,
		encoder:     enc,
		prober:      opts.Prober,
		autoDiscard: opts.AutoDiscard,
		onEvent:     opts.OnEvent,
		logger:      logger,
		manager:     jobs.NewManager(),
		registry:    jobs.NewRegistry(lockDir),
		hub:         progress.NewHub(opts.SubscriberBuffer),
		fs:          osFileSystem(),
		sniff:       sniffMIME,
		newID:       uuid.NewString,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		states:      make(map[string]*jobState),
	}
}

// Start registers a job for inputPath and runs it in the background.
//
// A conflicting job for the same input is reported synchronously as
// KindAlreadyInProgress. Problems with the input itself surface as the job's
// failed result so callers observe them through Await. ctx only bounds the
// registration; the job runs until it finishes, is cancelled or Shutdown.
func (c *Controller) Start(ctx context.Context, inputPath string, preset domain.QualityPreset) (string, error) {
	id, _, _, err := c.start(ctx, inputPath, preset, false)
	return id, err
}

// StartAndSubscribe is Start with a progress subscription taken before the
// job begins, so the stream includes the very first event.
func (c *Controller) StartAndSubscribe(
	ctx context.Context,
	inputPath string,
	preset domain.QualityPreset,
) (string, <-chan domain.ProgressEvent, func(), error) {
	return c.start(ctx, inputPath, preset, true)
}

func (c *Controller) start(
	ctx context.Context,
	inputPath string,
	preset domain.QualityPreset,
	subscribe bool,
) (string, <-chan domain.ProgressEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, nil, err
	}
	if _, err := pipeline.EncodeParamsFor(preset); err != nil {
		return "", nil, nil, fmt.Errorf("start conversion: %w", err)
	}
	canonical, err := jobs.CanonicalPath(inputPath)
	if err != nil {
		return "", nil, nil, fmt.Errorf("start conversion: resolve input path: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return "", nil, nil, ErrShuttingDown
	}

	id := c.newID()
	if err := c.registry.Register(canonical, id); err != nil {
		if !errors.Is(err, jobs.ErrAlreadyRegistered) {
			return "", nil, nil, &ConversionError{
				Kind:    KindInternal,
				Message: fmt.Sprintf("cannot claim %s for conversion", canonical),
				Err:     err,
			}
		}
		holder := ""
		var conflict *jobs.ConflictError
		if errors.As(err, &conflict) {
			holder = conflict.JobID
		}
		return "", nil, nil, &ConversionError{
			Kind:    KindAlreadyInProgress,
			JobID:   holder,
			Message: fmt.Sprintf("a conversion for %s is already in progress", canonical),
			Err:     err,
		}
	}

	job, err := c.manager.Create(domain.ConversionJob{
		ID:            id,
		InputPath:     canonical,
		QualityPreset: preset,
	})
	if err != nil {
		_ = c.registry.Unregister(canonical, id)
		return "", nil, nil, fmt.Errorf("start conversion: %w", err)
	}

	jobCtx, cancel := context.WithCancel(c.baseCtx)
	st := &jobState{
		id:      id,
		input:   canonical,
		preset:  preset,
		ctx:     jobCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		created: job.CreatedAt,
	}
	c.states[id] = st

	var (
		events      <-chan domain.ProgressEvent
		unsubscribe func()
	)
	if subscribe {
		events, unsubscribe = c.hub.Subscribe(id)
	}

	go c.run(st)
	return id, events, unsubscribe, nil
}

// Subscribe streams progress events for id from now on. The channel closes
// once the job is terminal; unknown jobs yield a closed channel.
func (c *Controller) Subscribe(id string) (<-chan domain.ProgressEvent, func()) {
	if _, ok := c.manager.Get(id); !ok {
		ch := make(chan domain.ProgressEvent)
		close(ch)
		return ch, func() {}
	}
	return c.hub.Subscribe(id)
}

// Await blocks until job id is terminal and returns its outcome.
func (c *Controller) Await(ctx context.Context, id string) (Result, error) {
	st, ok := c.state(id)
	if !ok {
		return Result{}, ErrJobNotFound
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if st.err != nil {
		return Result{}, st.err
	}
	return st.result, nil
}

// Done returns a channel closed when job id is terminal.
func (c *Controller) Done(id string) (<-chan struct{}, error) {
	st, ok := c.state(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return st.done, nil
}

// Cancel requests termination of job id. The running encoder is killed and
// the workspace removed. Cancelling a terminal job is a no-op.
func (c *Controller) Cancel(id string) error {
	st, ok := c.state(id)
	if !ok {
		return ErrJobNotFound
	}
	if job, ok := c.manager.Get(id); ok && job.Status.IsTerminal() {
		return nil
	}
	st.cancel()
	return nil
}

// Snapshot returns the current state of job id.
func (c *Controller) Snapshot(id string) (domain.ConversionJob, error) {
	job, ok := c.manager.Get(id)
	if !ok {
		return domain.ConversionJob{}, ErrJobNotFound
	}
	return job, nil
}

// List returns snapshots of all retained jobs, oldest first.
func (c *Controller) List() []domain.ConversionJob {
	return c.manager.List()
}

// ActiveJobFor returns the job currently holding inputPath.
func (c *Controller) ActiveJobFor(inputPath string) (string, bool) {
	canonical, err := jobs.CanonicalPath(inputPath)
	if err != nil {
		return "", false
	}
	return c.registry.ActiveJobFor(canonical)
}

// Discard releases a terminal job so its input can be converted again.
func (c *Controller) Discard(id string) error {
	job, err := c.manager.Remove(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()

	c.hub.Forget(id)
	if err := c.registry.Unregister(job.InputPath, id); err != nil {
		c.logger.Warn("input lock release failed",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.Error(err),
		)
	}
	return nil
}

// DiscardFinishedBefore discards terminal jobs that finished before cutoff
// and reports how many were dropped.
func (c *Controller) DiscardFinishedBefore(cutoff time.Time) int {
	dropped := 0
	for _, job := range c.manager.List() {
		if !job.Status.IsTerminal() || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		if err := c.Discard(job.ID); err == nil {
			dropped++
		}
	}
	return dropped
}

// Shutdown cancels every active job and waits for their cleanup.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	pending := make([]*jobState, 0, len(c.states))
	for _, st := range c.states {
		pending = append(pending, st)
	}
	c.mu.Unlock()

	c.baseCancel()
	for _, st := range pending {
		select {
		case <-st.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) state(id string) (*jobState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[id]
	return st, ok
}
