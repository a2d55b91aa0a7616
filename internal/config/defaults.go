package config

import (
	"os"
	"path/filepath"

	"reels-studio/internal/domain"
)

const (
	appDirName          = ".reels-studio"
	settingsFileName    = "settings.toml"
	defaultStageTimeout = 30 * 60
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		YtDlpPath:           "yt-dlp",
		OutputDir:           filepath.Join(homeDir, "Videos", "Reels"),
		WorkRoot:            filepath.Join(os.TempDir(), "reels-studio"),
		DefaultQuality:      string(domain.QualityMedium),
		StageTimeoutSeconds: defaultStageTimeout,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// AppDir returns the per-user application directory.
func AppDir(homeDir string) string {
	return filepath.Join(homeDir, appDirName)
}

// DefaultPath returns the settings file location under the user's home.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(AppDir(homeDir), settingsFileName), nil
}
