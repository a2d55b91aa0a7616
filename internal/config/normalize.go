package config

import (
	"fmt"
	"strings"

	"reels-studio/internal/domain"
)

// Normalize trims user input and fills empty fields from defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.FFmpegPath = orDefault(cfg.FFmpegPath, defaults.FFmpegPath)
	cfg.FFprobePath = orDefault(cfg.FFprobePath, defaults.FFprobePath)
	cfg.YtDlpPath = orDefault(cfg.YtDlpPath, defaults.YtDlpPath)
	cfg.OutputDir = orDefault(cfg.OutputDir, defaults.OutputDir)
	cfg.WorkRoot = orDefault(cfg.WorkRoot, defaults.WorkRoot)
	cfg.DefaultQuality = strings.ToLower(orDefault(cfg.DefaultQuality, defaults.DefaultQuality))
	cfg.LogLevel = strings.ToLower(orDefault(cfg.LogLevel, defaults.LogLevel))
	cfg.LogFormat = strings.ToLower(orDefault(cfg.LogFormat, defaults.LogFormat))
	return cfg
}

// Validate rejects settings the conversion pipeline cannot run with.
func Validate(cfg domain.Settings) error {
	if _, err := domain.ParseQualityPreset(cfg.DefaultQuality); err != nil {
		return fmt.Errorf("default_quality: %w", err)
	}
	if cfg.StageTimeoutSeconds < 0 {
		return fmt.Errorf("stage_timeout_seconds must be >= 0, got %d", cfg.StageTimeoutSeconds)
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q", cfg.LogFormat)
	}
	if strings.TrimSpace(cfg.WorkRoot) == "" {
		return fmt.Errorf("work_root is required")
	}
	return nil
}

func orDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
