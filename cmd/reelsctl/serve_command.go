package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reels-studio/internal/domain"
	"reels-studio/internal/relay"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var origins []string
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversion jobs over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			preset, err := domain.ParseQualityPreset(settings.DefaultQuality)
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

			server := relay.New(ctrl, relay.Options{
				Logger:         logger,
				DefaultQuality: preset,
				Retention:      retention,
				AllowedOrigins: origins,
			})
			return server.ListenAndServe(runCtx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "Listen address")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Extra browser origins allowed to call the API (repeatable; default same-origin only)")
	cmd.Flags().DurationVar(&retention, "retention", time.Hour, "How long finished jobs stay queryable (0 keeps them)")
	return cmd
}
