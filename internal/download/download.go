// Package download fetches remote videos with yt-dlp so they can be
// converted like any local file.
package download

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"reels-studio/internal/logging"
)

// FormatSelector prefers separate mp4/m4a streams and falls back to any mp4.
const FormatSelector = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// ErrInvalidURL is returned for URLs yt-dlp should not be pointed at.
var ErrInvalidURL = errors.New("invalid video url")

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, onStdoutLine func(string), name string, args ...string) (stderr string, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command, streaming stdout lines and capturing stderr.
func (r *execRunner) Run(ctx context.Context, onStdoutLine func(string), name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onStdoutLine(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, stdout)
	err = cmd.Wait()
	return stderr.String(), err
}

// Error reports a failed download with yt-dlp diagnostics.
type Error struct {
	URL     string
	Message string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result describes a downloaded file.
type Result struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Downloader wraps the yt-dlp executable.
type Downloader struct {
	binary   string
	runner   commandRunner
	mkdirAll func(string, os.FileMode) error
	stat     func(string) (os.FileInfo, error)
	logger   *slog.Logger
}

// New constructs a downloader for the given yt-dlp binary.
func New(binary string, logger *slog.Logger) *Downloader {
	return newDownloader(binary, &execRunner{}, os.Stat, logger)
}

// NewForTests constructs a downloader with injectable dependencies.
func NewForTests(binary string, runner commandRunner, stat func(string) (os.FileInfo, error)) *Downloader {
	return newDownloader(binary, runner, stat, nil)
}

func newDownloader(binary string, runner commandRunner, stat func(string) (os.FileInfo, error), logger *slog.Logger) *Downloader {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Downloader{
		binary:   binary,
		runner:   runner,
		mkdirAll: os.MkdirAll,
		stat:     stat,
		logger:   logging.NewComponentLogger(logger, "download"),
	}
}

// Fetch downloads rawURL into dir and returns the local file.
// onProgress, when non-nil, receives download percentages.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dir string, onProgress func(float64)) (Result, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(dir) == "" {
		return Result{}, fmt.Errorf("download directory is required")
	}
	if err := d.mkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download directory: %w", err)
	}

	args := buildArgs(target, dir)
	var finalPath string
	onLine := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		if percent, ok := parseProgress(line); ok {
			if onProgress != nil {
				onProgress(percent)
			}
			return
		}
		if !strings.HasPrefix(line, "[") {
			finalPath = line
		}
	}

	d.logger.Info("download started", logging.String("url", target))
	stderr, runErr := d.runner.Run(ctx, onLine, d.binary, args...)
	if runErr != nil {
		message := "yt-dlp failed"
		if ctx.Err() != nil {
			message = "download cancelled"
		}
		return Result{}, &Error{URL: target, Message: message, Stderr: strings.TrimSpace(stderr), Err: runErr}
	}
	if finalPath == "" {
		return Result{}, &Error{URL: target, Message: "yt-dlp did not report an output file", Stderr: strings.TrimSpace(stderr)}
	}

	info, err := d.stat(finalPath)
	if err != nil {
		return Result{}, &Error{URL: target, Message: "downloaded file is missing", Err: err}
	}
	d.logger.Info("download finished",
		logging.String("path", finalPath),
		logging.Int64("size_bytes", info.Size()),
	)
	return Result{URL: target, Path: finalPath, Size: info.Size()}, nil
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed.String(), nil
}

func buildArgs(target, dir string) []string {
	return []string{
		"--no-playlist",
		"--no-simulate",
		"--newline",
		"--progress",
		"--restrict-filenames",
		"-f", FormatSelector,
		"--merge-output-format", "mp4",
		"-o", filepath.Join(dir, "%(title).80s-%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
		"--", target,
	}
}

// parseProgress reads "[download]  42.3% of ..." lines.
func parseProgress(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(line, "[download]")
	if !ok {
		return 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || !strings.HasSuffix(fields[0], "%") {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
