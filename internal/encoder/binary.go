package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// bundledDir is where packaged builds ship their own ffmpeg next to the executable.
const bundledDir = "resources/ffmpeg"

// Locator resolves tool executables, preferring bundled copies.
type Locator struct {
	executable func() (string, error)
	stat       func(string) (os.FileInfo, error)
	lookPath   func(string) (string, error)
	goos       string
}

// NewLocator constructs a locator backed by the OS.
func NewLocator() *Locator {
	return &Locator{
		executable: os.Executable,
		stat:       os.Stat,
		lookPath:   exec.LookPath,
		goos:       runtime.GOOS,
	}
}

// NewLocatorForTests constructs a locator with injectable dependencies.
func NewLocatorForTests(
	executable func() (string, error),
	stat func(string) (os.FileInfo, error),
	lookPath func(string) (string, error),
	goos string,
) *Locator {
	return &Locator{
		executable: executable,
		stat:       stat,
		lookPath:   lookPath,
		goos:       goos,
	}
}

// Resolve returns an executable path for a tool.
//
// An explicit path is used as-is when it exists. A bare name is looked up in
// the bundled resources directory first and then on PATH.
func (l *Locator) Resolve(configured, name string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		configured = name
	}

	if strings.ContainsAny(configured, `/\`) {
		if _, err := l.stat(configured); err != nil {
			return "", fmt.Errorf("%s not found at %s: %w", name, configured, err)
		}
		return configured, nil
	}

	if bundled, ok := l.bundled(configured); ok {
		return bundled, nil
	}

	path, err := l.lookPath(configured)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH: %w", configured, err)
	}
	return path, nil
}

func (l *Locator) bundled(name string) (string, bool) {
	exe, err := l.executable()
	if err != nil {
		return "", false
	}
	file := name
	if l.goos == "windows" && !strings.HasSuffix(strings.ToLower(file), ".exe") {
		file += ".exe"
	}
	candidate := filepath.Join(filepath.Dir(exe), filepath.FromSlash(bundledDir), file)
	info, err := l.stat(candidate)
	if err != nil || info.IsDir() {
		return "", false
	}
	return candidate, true
}

// nvencTrialTimeout bounds the one-frame NVENC trial encode.
const nvencTrialTimeout = 15 * time.Second

// nvencTrialArgs encode a single synthetic frame and discard it.
var nvencTrialArgs = []string{
	"-hide_banner",
	"-nostdin",
	"-loglevel", "error",
	"-f", "lavfi",
	"-i", "color=c=black:s=256x256:d=0.1",
	"-frames:v", "1",
	"-c:v", CodecNVENC,
	"-f", "null",
	"-",
}

// DetectVideoCodec picks NVENC when the ffmpeg build offers it and a trial
// encode succeeds, else libx264.
func DetectVideoCodec(ctx context.Context, binary string) string {
	return detectVideoCodec(ctx, &execRunner{}, binary)
}

func detectVideoCodec(ctx context.Context, runner commandRunner, binary string) string {
	result, err := runner.Run(ctx, nil, binary, "-hide_banner", "-encoders")
	if err != nil || !strings.Contains(result.Stdout, CodecNVENC) {
		return CodecX264
	}

	// Most builds list NVENC even without an NVIDIA GPU or driver.
	trialCtx, cancel := context.WithTimeout(ctx, nvencTrialTimeout)
	defer cancel()
	if _, err := runner.Run(trialCtx, nil, binary, nvencTrialArgs...); err != nil {
		return CodecX264
	}
	return CodecNVENC
}
