package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"reels-studio/internal/domain"
)

// Environment variables that override persisted settings.
const (
	EnvFFmpeg       = "REELS_FFMPEG"
	EnvFFprobe      = "REELS_FFPROBE"
	EnvYtDlp        = "REELS_YTDLP"
	EnvOutputDir    = "REELS_OUTPUT_DIR"
	EnvWorkRoot     = "REELS_WORK_ROOT"
	EnvLogLevel     = "REELS_LOG_LEVEL"
	EnvStageTimeout = "REELS_STAGE_TIMEOUT"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Missing files are ignored; variables already set win.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays REELS_* environment variables on cfg.
func ApplyEnv(cfg domain.Settings) domain.Settings {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg domain.Settings, lookup func(string) (string, bool)) domain.Settings {
	set := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}

	set(EnvFFmpeg, &cfg.FFmpegPath)
	set(EnvFFprobe, &cfg.FFprobePath)
	set(EnvYtDlp, &cfg.YtDlpPath)
	set(EnvOutputDir, &cfg.OutputDir)
	set(EnvWorkRoot, &cfg.WorkRoot)
	set(EnvLogLevel, &cfg.LogLevel)

	if value, ok := lookup(EnvStageTimeout); ok {
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
			cfg.StageTimeoutSeconds = seconds
		}
	}
	return cfg
}
