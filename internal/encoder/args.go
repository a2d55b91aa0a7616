package encoder

import (
	"strconv"

	"reels-studio/internal/pipeline"
)

// Video codec identifiers understood by BuildArgs.
const (
	CodecX264  = "libx264"
	CodecNVENC = "h264_nvenc"
)

// nvencPresets maps x264 speed presets onto the closest NVENC tier.
var nvencPresets = map[string]string{
	"ultrafast": "p1",
	"superfast": "p1",
	"veryfast":  "p2",
	"faster":    "p3",
	"fast":      "p3",
	"medium":    "p4",
	"slow":      "p6",
	"slower":    "p7",
	"veryslow":  "p7",
}

// BuildArgs renders ffmpeg CLI args for one stage.
func BuildArgs(stage pipeline.Stage, workDir string, videoCodec string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-nostats",
	}
	for _, input := range stage.InputPaths(workDir) {
		args = append(args, "-i", input)
	}

	filter := stage.Filter
	if filter.VideoFilter != "" {
		args = append(args, "-vf", filter.VideoFilter)
	}
	if filter.FilterComplex != "" {
		args = append(args, "-filter_complex", filter.FilterComplex)
	}
	for _, m := range filter.Maps {
		args = append(args, "-map", m)
	}

	args = append(args, codecArgs(videoCodec, filter.Encode)...)
	if filter.PixelFormat != "" {
		args = append(args, "-pix_fmt", filter.PixelFormat)
	}

	switch {
	case filter.DropAudio:
		args = append(args, "-an")
	case filter.AudioCodec != "":
		args = append(args, "-c:a", filter.AudioCodec, "-b:a", "192k")
	}

	args = append(args, "-movflags", "+faststart", stage.OutputPath(workDir))
	return args
}

func codecArgs(videoCodec string, params pipeline.EncodeParams) []string {
	if videoCodec == CodecNVENC {
		preset, ok := nvencPresets[params.Preset]
		if !ok {
			preset = "p4"
		}
		return []string{
			"-c:v", CodecNVENC,
			"-preset", preset,
			"-rc", "vbr",
			"-cq", strconv.Itoa(params.CRF),
		}
	}
	return []string{
		"-c:v", CodecX264,
		"-preset", params.Preset,
		"-crf", strconv.Itoa(params.CRF),
	}
}
