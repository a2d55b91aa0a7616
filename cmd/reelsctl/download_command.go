package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reels-studio/internal/download"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a video with yt-dlp for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			renderer := newProgressRenderer(out)
			result, err := download.New(settings.YtDlpPath, logger).Fetch(runCtx, args[0], dir, func(percent float64) {
				renderer.Update("download", percent)
			})
			renderer.Finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Downloaded %s (%s)\n", result.Path, humanize.Bytes(uint64(result.Size)))
			fmt.Fprintf(out, "Next: reelsctl convert %q\n", result.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to download into")
	return cmd
}
