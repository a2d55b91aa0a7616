package convert

import (
	"context"
	"log/slog"

	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
	"reels-studio/internal/logging"
	"reels-studio/internal/probe"
)

// Tools bundles the external programs a controller drives.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Encoder *encoder.Adapter
	Prober  *probe.Prober
}

// ResolveTools locates ffmpeg and ffprobe (bundled copies first) and picks the
// video codec. Unresolvable tools keep their configured names so failures
// surface as encode errors and in diagnostics.
func ResolveTools(ctx context.Context, settings domain.Settings, logger *slog.Logger) Tools {
	log := logging.NewComponentLogger(logger, "tools")
	locator := encoder.NewLocator()

	ffmpeg, err := locator.Resolve(settings.FFmpegPath, "ffmpeg")
	if err != nil {
		log.Warn("ffmpeg not resolved",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set ffmpeg_path"),
		)
		ffmpeg = settings.FFmpegPath
	}
	ffprobe, err := locator.Resolve(settings.FFprobePath, "ffprobe")
	if err != nil {
		log.Warn("ffprobe not resolved; progress limited to stage checkpoints", logging.Error(err))
		ffprobe = settings.FFprobePath
	}

	codec := encoder.CodecX264
	if settings.HardwareAcceleration {
		codec = encoder.DetectVideoCodec(ctx, ffmpeg)
	}
	log.Info("encoder tools resolved",
		logging.String("ffmpeg", ffmpeg),
		logging.String("ffprobe", ffprobe),
		logging.String("video_codec", codec),
	)

	return Tools{
		FFmpeg:  ffmpeg,
		FFprobe: ffprobe,
		Encoder: encoder.New(encoder.Options{
			Binary:       ffmpeg,
			VideoCodec:   codec,
			StageTimeout: settings.StageTimeout(),
			Logger:       logger,
		}),
		Prober: probe.New(ffprobe),
	}
}

// Options returns controller options wired to these tools.
func (t Tools) Options(logger *slog.Logger) Options {
	return Options{
		Logger:  logger,
		Encoder: t.Encoder,
		Prober:  t.Prober,
	}
}
