package diagnostics

import (
	"fmt"
	"os"
	"strings"
	"time"

	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
)

// Diagnostic item IDs shared with the install/fix actions.
const (
	ItemFFmpeg    = "tool_ffmpeg"
	ItemFFprobe   = "tool_ffprobe"
	ItemYtDlp     = "tool_yt-dlp"
	ItemOutputDir = "output_dir"
	ItemWorkRoot  = "work_root"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	resolve    func(configured, name string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		resolve:    encoder.NewLocator().Resolve,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ItemFFmpeg, "ffmpeg", settings.FFmpegPath, domain.DiagnosticStatusFail,
			"Install ffmpeg or set its path in settings; conversions cannot run without it."),
		c.checkTool(ItemFFprobe, "ffprobe", settings.FFprobePath, domain.DiagnosticStatusWarn,
			"Without ffprobe, progress only advances at stage boundaries."),
		c.checkTool(ItemYtDlp, "yt-dlp", settings.YtDlpPath, domain.DiagnosticStatusWarn,
			"Install yt-dlp to convert videos straight from a URL."),
		c.checkWritableDir(ItemOutputDir, "Output directory", settings.OutputDir,
			"Choose a writable folder for converted reels."),
		c.checkWritableDir(ItemWorkRoot, "Work directory", settings.WorkRoot,
			"Choose a writable scratch location with enough free space for intermediate files."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a CLI executable is bundled, configured or on PATH.
func (c *Checker) checkTool(
	id, name, configured string,
	missing domain.DiagnosticStatus,
	hint string,
) domain.DiagnosticItem {
	path, err := c.resolve(configured, name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  missing,
			Message: fmt.Sprintf("Tool not found: %s", strings.TrimSpace(firstNonEmpty(configured, name))),
			Hint:    hint,
		}
	}

	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = hint
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	resolve func(configured, name string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		resolve:    resolve,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// Item returns the report entry with the given ID.
func Item(report domain.DiagnosticReport, id string) (domain.DiagnosticItem, bool) {
	for _, item := range report.Items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.DiagnosticItem{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
