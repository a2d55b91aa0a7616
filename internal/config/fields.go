package config

import (
	"fmt"
	"strconv"
	"strings"

	"reels-studio/internal/domain"
)

// Field is one settings key as written in the TOML file.
type Field struct {
	Key   string
	Value string
}

// Keys lists the settings file keys in display order.
var Keys = []string{
	"ffmpeg_path",
	"ffprobe_path",
	"ytdlp_path",
	"output_dir",
	"work_root",
	"default_quality",
	"stage_timeout_seconds",
	"hardware_acceleration",
	"log_level",
	"log_format",
}

// Fields renders cfg as key/value pairs in Keys order.
func Fields(cfg domain.Settings) []Field {
	fields := make([]Field, 0, len(Keys))
	for _, key := range Keys {
		value, _ := Get(cfg, key)
		fields = append(fields, Field{Key: key, Value: value})
	}
	return fields
}

// Get returns the string form of one settings key.
func Get(cfg domain.Settings, key string) (string, error) {
	switch normalizeKey(key) {
	case "ffmpeg_path":
		return cfg.FFmpegPath, nil
	case "ffprobe_path":
		return cfg.FFprobePath, nil
	case "ytdlp_path":
		return cfg.YtDlpPath, nil
	case "output_dir":
		return cfg.OutputDir, nil
	case "work_root":
		return cfg.WorkRoot, nil
	case "default_quality":
		return cfg.DefaultQuality, nil
	case "stage_timeout_seconds":
		return strconv.Itoa(cfg.StageTimeoutSeconds), nil
	case "hardware_acceleration":
		return strconv.FormatBool(cfg.HardwareAcceleration), nil
	case "log_level":
		return cfg.LogLevel, nil
	case "log_format":
		return cfg.LogFormat, nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

// Set parses value into the named key of cfg. The result is not validated.
func Set(cfg domain.Settings, key, value string) (domain.Settings, error) {
	value = strings.TrimSpace(value)
	switch normalizeKey(key) {
	case "ffmpeg_path":
		cfg.FFmpegPath = value
	case "ffprobe_path":
		cfg.FFprobePath = value
	case "ytdlp_path":
		cfg.YtDlpPath = value
	case "output_dir":
		cfg.OutputDir = value
	case "work_root":
		cfg.WorkRoot = value
	case "default_quality":
		cfg.DefaultQuality = value
	case "stage_timeout_seconds":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("stage_timeout_seconds: %q is not a whole number of seconds", value)
		}
		cfg.StageTimeoutSeconds = seconds
	case "hardware_acceleration":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return cfg, fmt.Errorf("hardware_acceleration: %q is not a boolean", value)
		}
		cfg.HardwareAcceleration = enabled
	case "log_level":
		cfg.LogLevel = value
	case "log_format":
		cfg.LogFormat = value
	default:
		return cfg, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys, ", "))
	}
	return cfg, nil
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}
