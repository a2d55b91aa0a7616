package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reels-studio/internal/convert"
	"reels-studio/internal/domain"
)

const shutdownTimeout = 15 * time.Second

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var quality string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "convert <input>",
		Short: "Convert a video file into a vertical reel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			if strings.TrimSpace(outputDir) != "" {
				settings.OutputDir = outputDir
			}
			preset, err := domain.ParseQualityPreset(firstNonEmpty(quality, settings.DefaultQuality))
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctrl := ctx.newController(settings, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = ctrl.Shutdown(shutdownCtx)
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConversion(runCtx, cmd, ctrl, args[0], preset)
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", "", "Quality preset: low, medium or high (default from settings)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the converted reel (default from settings)")
	return cmd
}

// runConversion starts one job, renders its progress and reports the result.
// Cancelling ctx cancels the job and waits for its cleanup.
func runConversion(
	ctx context.Context,
	cmd *cobra.Command,
	ctrl *convert.Controller,
	input string,
	preset domain.QualityPreset,
) error {
	out := cmd.OutOrStdout()
	id, events, unsubscribe, err := ctrl.StartAndSubscribe(ctx, input, preset)
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Fprintf(out, "Converting %s (%s quality)\n", input, preset)
	renderer := newProgressRenderer(out)
	interrupted := ctx.Done()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			renderer.Update(ev.Stage, ev.Percent)
		case <-interrupted:
			interrupted = nil
			_ = ctrl.Cancel(id)
		}
	}
	renderer.Finish()

	result, err := ctrl.Await(context.Background(), id)
	if convert.IsCancelled(err) {
		fmt.Fprintln(out, "Conversion cancelled")
		return context.Canceled
	}
	if err != nil {
		return describeFailure(err)
	}
	fmt.Fprintf(out, "Saved %s (%s in %s)\n",
		result.OutputPath,
		humanize.Bytes(uint64(result.SizeBytes)),
		result.Elapsed.Round(time.Second),
	)
	return nil
}

// describeFailure appends the encoder's stderr tail to the failure message.
func describeFailure(err error) error {
	var convErr *convert.ConversionError
	if !errors.As(err, &convErr) || convErr.Stderr == "" {
		return err
	}
	return fmt.Errorf("%w\n%s", err, convErr.Stderr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
