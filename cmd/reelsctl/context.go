package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reels-studio/internal/config"
	"reels-studio/internal/convert"
	"reels-studio/internal/diagnostics"
	"reels-studio/internal/domain"
	"reels-studio/internal/logging"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	loadOnce sync.Once
	settings domain.Settings
	loadErr  error

	newController func(settings domain.Settings, logger *slog.Logger) *convert.Controller
	checker       *diagnostics.Checker
}

func newCommandContext() *commandContext {
	return &commandContext{
		newController: defaultController,
		checker:       diagnostics.NewChecker(),
	}
}

// defaultController resolves the real encoder tools. Terminal jobs release
// their input immediately; the CLI reads results through Await.
func defaultController(settings domain.Settings, logger *slog.Logger) *convert.Controller {
	tools := convert.ResolveTools(context.Background(), settings, logger)
	opts := tools.Options(logger)
	opts.AutoDiscard = true
	return convert.NewController(settings, opts)
}

func (c *commandContext) store() (*config.TOMLStore, error) {
	path := strings.TrimSpace(c.configFlag)
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("determine settings path: %w", err)
		}
		path = defaultPath
	}
	return config.NewTOMLStore(path), nil
}

func (c *commandContext) ensureSettings() (domain.Settings, error) {
	c.loadOnce.Do(func() {
		store, err := c.store()
		if err != nil {
			c.loadErr = err
			return
		}
		if err := config.LoadEnvFile(filepath.Join(filepath.Dir(store.Path()), ".env")); err != nil {
			c.loadErr = fmt.Errorf("load .env: %w", err)
			return
		}
		settings, err := store.Load()
		if err != nil {
			c.loadErr = fmt.Errorf("load settings: %w", err)
			return
		}
		c.settings = config.ApplyEnv(settings)
	})
	return c.settings, c.loadErr
}

func (c *commandContext) logger(w io.Writer) (*slog.Logger, error) {
	settings, err := c.ensureSettings()
	if err != nil {
		return nil, err
	}
	level := settings.LogLevel
	if strings.TrimSpace(c.logLevelFlag) != "" {
		level = c.logLevelFlag
	}
	if w == nil {
		w = os.Stderr
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: settings.LogFormat,
		Output: w,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
