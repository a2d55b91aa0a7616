package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"reels-studio/internal/config"
	"reels-studio/internal/convert"
	"reels-studio/internal/diagnostics"
	"reels-studio/internal/domain"
	"reels-studio/internal/download"
	"reels-studio/internal/jobs"
	"reels-studio/internal/logging"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Runtime event names pushed to the frontend.
const (
	EventConversionProgress = "conversion-progress"
	EventJobRecord          = "job:event"
)

const shutdownTimeout = 10 * time.Second

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm;*.m4v",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var mp4DialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "MP4 video",
		Pattern:     "*.mp4",
	},
}

// videoDownloader fetches a remote video into a local directory.
type videoDownloader interface {
	Fetch(ctx context.Context, rawURL, dir string, onProgress func(float64)) (download.Result, error)
}

// App wires configuration, conversions, downloads, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	Logger      *slog.Logger
	assets      fs.FS
	checker     *diagnostics.Checker

	// newController and newDownloader build collaborators for the current
	// settings; tests replace them with fakes.
	newController func(settings domain.Settings) *convert.Controller
	newDownloader func(settings domain.Settings) videoDownloader

	mu                 sync.Mutex
	controller         *convert.Controller
	controllerSettings domain.Settings
	// retired controllers were replaced after a settings change and still
	// hold finished job records.
	retired            []*convert.Controller
	downloadCancel     context.CancelFunc
	events             *jobs.EventBus
	runtimeCtx         context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}
	if err := config.LoadEnvFile(filepath.Join(config.AppDir(homeDir), ".env")); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	settingsPath, err := config.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	store := config.NewTOMLStore(settingsPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)

	logger, err := logging.New(logging.Options{
		Level:    settings.LogLevel,
		Format:   settings.LogFormat,
		FilePath: filepath.Join(config.AppDir(homeDir), "logs", "reels-studio.log"),
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	checker := diagnostics.NewChecker()
	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: checker.Run(settings),
		Logger:      logger,
		assets:      assets,
		checker:     checker,
		events:      jobs.NewEventBus(1000),
	}
	app.newController = app.buildController
	app.newDownloader = func(settings domain.Settings) videoDownloader {
		return download.New(settings.YtDlpPath, logger)
	}
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Reels Studio",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown cancels running conversions and downloads and waits for their cleanup.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	ctrl := a.controller
	cancelDownload := a.downloadCancel
	a.mu.Unlock()

	if cancelDownload != nil {
		cancelDownload()
	}
	if ctrl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		a.log().Warn("conversions did not stop in time", logging.Error(err))
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes, validates and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickInputFile opens a native file dialog for video selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for converted videos.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}
	return openInFileManager(openPath)
}

// StartConversion starts converting inputPath with the given quality preset.
// An empty quality uses the configured default.
func (a *App) StartConversion(inputPath string, quality string) (domain.ConversionJob, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.ConversionJob{}, err
	}

	if strings.TrimSpace(quality) == "" {
		quality = settings.DefaultQuality
	}
	preset, err := domain.ParseQualityPreset(quality)
	if err != nil {
		return domain.ConversionJob{}, err
	}

	ctrl := a.conversions(settings)
	jobID, err := ctrl.Start(context.Background(), inputPath, preset)
	if err != nil {
		return domain.ConversionJob{}, err
	}

	go a.watchJob(ctrl, jobID)

	return ctrl.Snapshot(jobID)
}

// CancelConversion cancels a running conversion. Finished jobs are left as they are.
func (a *App) CancelConversion(jobID string) error {
	ctrl, err := a.controllerFor(jobID)
	if err != nil {
		return err
	}
	return ctrl.Cancel(jobID)
}

// ConversionStatus returns the current snapshot of a conversion.
func (a *App) ConversionStatus(jobID string) (domain.ConversionJob, error) {
	ctrl, err := a.controllerFor(jobID)
	if err != nil {
		return domain.ConversionJob{}, err
	}
	return ctrl.Snapshot(jobID)
}

// ListConversions returns every retained conversion, oldest first.
func (a *App) ListConversions() []domain.ConversionJob {
	a.mu.Lock()
	controllers := append([]*convert.Controller(nil), a.retired...)
	if a.controller != nil {
		controllers = append(controllers, a.controller)
	}
	a.mu.Unlock()

	var out []domain.ConversionJob
	for _, ctrl := range controllers {
		out = append(out, ctrl.List()...)
	}
	return out
}

// DiscardConversion forgets a finished conversion.
func (a *App) DiscardConversion(jobID string) error {
	ctrl, err := a.controllerFor(jobID)
	if err != nil {
		return err
	}
	if err := ctrl.Discard(jobID); err != nil {
		return err
	}
	a.pruneRetired()
	return nil
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// SaveConvertedVideo asks where to keep a finished video and moves it there.
// An empty path means the dialog was dismissed.
func (a *App) SaveConvertedVideo(jobID string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}
	return a.saveConverted(jobID, func(suggested string) (string, error) {
		return wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
			Title:            "Save Reels video",
			DefaultDirectory: filepath.Dir(suggested),
			DefaultFilename:  filepath.Base(suggested),
			Filters:          mp4DialogFilter,
		})
	})
}

func (a *App) saveConverted(jobID string, pick func(suggested string) (string, error)) (string, error) {
	job, err := a.ConversionStatus(jobID)
	if err != nil {
		return "", err
	}
	if job.Status != domain.JobStatusCompleted || job.OutputPath == "" {
		return "", fmt.Errorf("conversion %s has no finished video (status %s)", jobID, job.Status)
	}

	target, err := pick(job.OutputPath)
	if err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if target == "" || filepath.Clean(target) == filepath.Clean(job.OutputPath) {
		return target, nil
	}

	if err := moveFile(job.OutputPath, target); err != nil {
		return "", fmt.Errorf("save converted video: %w", err)
	}
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusCompleted,
		Percent:    100,
		Message:    "Video saved",
		OutputPath: target,
	})
	return target, nil
}

// DownloadVideo fetches a video URL into the work root and returns the local file.
func (a *App) DownloadVideo(rawURL string) (download.Result, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return download.Result{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.downloadCancel != nil {
		a.mu.Unlock()
		cancel()
		return download.Result{}, fmt.Errorf("a download is already running")
	}
	a.downloadCancel = cancel
	a.mu.Unlock()

	defer func() {
		cancel()
		a.mu.Lock()
		a.downloadCancel = nil
		a.mu.Unlock()
	}()

	sampler := logging.NewProgressSampler(5)
	result, err := a.newDownloader(settings).Fetch(ctx, rawURL, filepath.Join(settings.WorkRoot, "downloads"), func(percent float64) {
		if !sampler.ShouldLog(percent, "download") {
			return
		}
		a.publishEvent(jobs.Event{
			Type:    jobs.EventTypeProgress,
			Stage:   "download",
			Percent: percent,
			Message: rawURL,
		})
	})
	if err != nil {
		a.publishEvent(jobs.Event{
			Type:    jobs.EventTypeError,
			Stage:   "download",
			Message: err.Error(),
		})
		return download.Result{}, err
	}

	a.publishEvent(jobs.Event{
		Type:       jobs.EventTypeResult,
		Stage:      "download",
		Percent:    100,
		Message:    "Download finished",
		OutputPath: result.Path,
	})
	return result, nil
}

// CancelDownload stops the running download, if any.
func (a *App) CancelDownload() {
	a.mu.Lock()
	cancel := a.downloadCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// buildController wires a controller to the resolved ffmpeg tools.
func (a *App) buildController(settings domain.Settings) *convert.Controller {
	tools := convert.ResolveTools(context.Background(), settings, a.Logger)
	opts := tools.Options(a.Logger)
	opts.AutoDiscard = true
	opts.OnEvent = a.publishProgress
	return convert.NewController(settings, opts)
}

// conversions returns the controller for settings. A new controller replaces
// the current one only when settings changed and no job is still running.
func (a *App) conversions(settings domain.Settings) *convert.Controller {
	a.mu.Lock()
	current := a.controller
	if current != nil && (a.controllerSettings == settings || hasRunningJobs(current)) {
		a.mu.Unlock()
		return current
	}
	a.mu.Unlock()

	// Tool resolution runs ffmpeg, so the replacement is built unlocked.
	next := a.newController(settings)

	a.mu.Lock()
	if a.controller != current {
		a.mu.Unlock()
		a.stopController(next)
		return a.conversions(settings)
	}
	a.controller = next
	a.controllerSettings = settings
	if current != nil && len(current.List()) > 0 {
		a.retired = append(a.retired, current)
	}
	a.mu.Unlock()

	// Finishing jobs publish through publishProgress, which takes a.mu.
	if current != nil {
		a.stopController(current)
	}
	return next
}

func (a *App) stopController(ctrl *convert.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		a.log().Warn("conversions did not stop in time", logging.Error(err))
	}
}

// controllerFor returns the current or retired controller that knows jobID.
func (a *App) controllerFor(jobID string) (*convert.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller != nil {
		if _, err := a.controller.Snapshot(jobID); err == nil {
			return a.controller, nil
		}
	}
	for _, ctrl := range a.retired {
		if _, err := ctrl.Snapshot(jobID); err == nil {
			return ctrl, nil
		}
	}
	return nil, convert.ErrJobNotFound
}

// pruneRetired drops retired controllers whose records were all discarded.
func (a *App) pruneRetired() {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.retired[:0]
	for _, ctrl := range a.retired {
		if len(ctrl.List()) > 0 {
			kept = append(kept, ctrl)
		}
	}
	a.retired = kept
}

func hasRunningJobs(ctrl *convert.Controller) bool {
	for _, job := range ctrl.List() {
		if !job.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// watchJob records the outcome of one conversion in the event history.
func (a *App) watchJob(ctrl *convert.Controller, jobID string) {
	result, err := ctrl.Await(context.Background(), jobID)
	switch {
	case errors.Is(err, convert.ErrJobNotFound):
		return
	case convert.IsCancelled(err):
		a.publishEvent(jobs.Event{
			JobID:     jobID,
			Type:      jobs.EventTypeStatus,
			Status:    domain.JobStatusCancelled,
			Message:   "Conversion cancelled",
			ErrorKind: string(convert.KindCancelled),
		})
	case err != nil:
		a.publishEvent(jobs.Event{
			JobID:     jobID,
			Type:      jobs.EventTypeError,
			Status:    domain.JobStatusFailed,
			Message:   err.Error(),
			ErrorKind: string(convert.KindOf(err)),
		})
	default:
		a.publishEvent(jobs.Event{
			JobID:      jobID,
			Type:       jobs.EventTypeResult,
			Status:     domain.JobStatusCompleted,
			Percent:    100,
			Message:    "Reels video ready",
			OutputPath: result.OutputPath,
		})
	}
}

// publishProgress records a progress update and pushes it to the frontend.
func (a *App) publishProgress(ev domain.ProgressEvent) {
	a.events.Publish(jobs.EventFromProgress(ev))
	if ctx := a.currentRuntime(); ctx != nil {
		wailsruntime.EventsEmit(ctx, EventConversionProgress, ev)
	}
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)
	if ctx := a.currentRuntime(); ctx != nil {
		wailsruntime.EventsEmit(ctx, EventJobRecord, published)
	}
}

func (a *App) currentRuntime() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtimeCtx
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	ctx := a.currentRuntime()
	if ctx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return ctx, nil
}

// loadSettings reads persisted settings with environment overrides applied.
func (a *App) loadSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
	return settings, nil
}

func (a *App) log() *slog.Logger {
	if a.Logger == nil {
		return logging.NewNop()
	}
	return a.Logger
}

// moveFile renames src to dst, copying across filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
