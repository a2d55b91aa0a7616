package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reels-studio/internal/config"
	"reels-studio/internal/convert"
	"reels-studio/internal/diagnostics"
	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
	"reels-studio/internal/pipeline"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2\x00\x00\x00\x08free")

// fakeEncoder writes each stage output, optionally failing one stage.
type fakeEncoder struct {
	failStage string
}

func (f *fakeEncoder) Invoke(
	_ context.Context,
	stage pipeline.Stage,
	workDir string,
	_ encoder.ProgressFunc,
) (encoder.CommandLog, error) {
	log := encoder.CommandLog{Command: "ffmpeg"}
	if stage.Name == f.failStage {
		log.ExitCode = 1
		log.Stderr = "Invalid data found when processing input"
		return log, &encoder.EncodeError{
			Stage:      stage.Name,
			Message:    "ffmpeg exited with status 1",
			CommandLog: log,
			Err:        errors.New("exit status 1"),
		}
	}
	return log, os.WriteFile(stage.OutputPath(workDir), []byte("frames"), 0o644)
}

type cliTestEnv struct {
	configPath string
	outputDir  string
	workRoot   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	env := &cliTestEnv{
		configPath: filepath.Join(base, "cfg", "settings.toml"),
		outputDir:  filepath.Join(base, "out"),
		workRoot:   filepath.Join(base, "work"),
	}
	t.Setenv(config.EnvOutputDir, env.outputDir)
	t.Setenv(config.EnvWorkRoot, env.workRoot)
	return env
}

// testContext wires a fake encoder and an all-pass checker.
func testContext(enc *fakeEncoder) *commandContext {
	ctx := newCommandContext()
	ctx.newController = func(settings domain.Settings, logger *slog.Logger) *convert.Controller {
		return convert.NewController(settings, convert.Options{
			Logger:          logger,
			Encoder:         enc,
			AutoDiscard:     true,
			DisableFileLock: true,
		})
	}
	ctx.checker = diagnostics.NewCheckerForTests(
		func(configured, name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	return ctx
}

func runCLI(t *testing.T, ctx *commandContext, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeSample(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, mp4Header, 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q to contain %q", haystack, needle)
	}
}
