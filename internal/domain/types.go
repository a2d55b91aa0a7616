package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus tracks the lifecycle of a single conversion job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can happen from status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// QualityPreset selects the encoder speed/quality trade-off.
type QualityPreset string

const (
	QualityLow    QualityPreset = "low"
	QualityMedium QualityPreset = "medium"
	QualityHigh   QualityPreset = "high"
)

// QualityPresets lists the accepted presets in ascending quality.
var QualityPresets = []QualityPreset{QualityLow, QualityMedium, QualityHigh}

// ParseQualityPreset accepts preset names case-insensitively.
func ParseQualityPreset(raw string) (QualityPreset, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	default:
		return "", fmt.Errorf("unknown quality preset %q (want low, medium or high)", raw)
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath           string `json:"ffmpegPath" toml:"ffmpeg_path"`
	FFprobePath          string `json:"ffprobePath" toml:"ffprobe_path"`
	YtDlpPath            string `json:"ytDlpPath" toml:"ytdlp_path"`
	OutputDir            string `json:"outputDir" toml:"output_dir"`
	WorkRoot             string `json:"workRoot" toml:"work_root"`
	DefaultQuality       string `json:"defaultQuality" toml:"default_quality"`
	StageTimeoutSeconds  int    `json:"stageTimeoutSeconds" toml:"stage_timeout_seconds"`
	HardwareAcceleration bool   `json:"hardwareAcceleration" toml:"hardware_acceleration"`
	LogLevel             string `json:"logLevel" toml:"log_level"`
	LogFormat            string `json:"logFormat" toml:"log_format"`
}

// StageTimeout returns the per-stage encoder budget, zero meaning unbounded.
func (s Settings) StageTimeout() time.Duration {
	if s.StageTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.StageTimeoutSeconds) * time.Second
}

// ConversionJob is a point-in-time copy of one conversion request.
type ConversionJob struct {
	ID            string        `json:"id"`
	InputPath     string        `json:"inputPath"`
	QualityPreset QualityPreset `json:"qualityPreset"`
	WorkDir       string        `json:"workDir,omitempty"`
	Status        JobStatus     `json:"status"`
	StageIndex    int           `json:"stageIndex"`
	Stage         string        `json:"stage,omitempty"`
	Percent       float64       `json:"percent"`
	OutputPath    string        `json:"outputPath,omitempty"`
	ErrorKind     string        `json:"errorKind,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
}

// ProgressEvent is broadcast to UI listeners while a job runs.
type ProgressEvent struct {
	JobID   string    `json:"jobId"`
	Stage   string    `json:"stage"`
	Percent float64   `json:"percent"`
	Status  JobStatus `json:"status"`
}
