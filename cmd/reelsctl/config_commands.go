package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reels-studio/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Settings utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigPathCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))
	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print effective settings (file plus environment overrides)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			fields := config.Fields(settings)
			rows := make([][]string, 0, len(fields))
			for _, field := range fields {
				rows = append(rows, []string{field.Key, field.Value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, rows))
			return nil
		},
	}
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the settings file location",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.Path())
			return nil
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Update one setting in the settings file",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			// Environment overrides are not persisted.
			settings, err := store.Load()
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			settings, err = config.Set(settings, args[0], args[1])
			if err != nil {
				return err
			}
			settings = config.Normalize(settings)
			if err := config.Validate(settings); err != nil {
				return fmt.Errorf("invalid settings: %w", err)
			}
			if err := store.Save(settings); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			value, _ := config.Get(settings, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], value, store.Path())
			return nil
		},
	}
}
