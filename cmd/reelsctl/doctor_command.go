package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reels-studio/internal/domain"
)

var errDiagnosticsFailed = errors.New("diagnostics reported failures")

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check encoder tools and working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			report := ctx.checker.Run(settings)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Details"}, diagnosticRows(report)))
			if report.HasFailures {
				return errDiagnosticsFailed
			}
			fmt.Fprintln(out, "Ready to convert")
			return nil
		},
	}
}

func diagnosticRows(report domain.DiagnosticReport) [][]string {
	rows := make([][]string, 0, len(report.Items))
	for _, item := range report.Items {
		details := item.Message
		if item.Status != domain.DiagnosticStatusPass && item.Hint != "" {
			details += "\n" + item.Hint
		}
		rows = append(rows, []string{item.Name, strings.ToUpper(string(item.Status)), details})
	}
	return rows
}
