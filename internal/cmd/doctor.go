package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (data dir, policy, signing key, audit DB)",
	Long:  "Verifies the data directory is writable, the policy file is valid and its rules compile, the audit signing key is configured, and the audit DB is usable.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	report := doctor.Run(ctx)
	out := cmd.OutOrStdout()

	for _, c := range report.Checks {
		marker := "✓"
		switch c.Status {
		case "warn":
			marker = "⚠"
		case "fail":
			marker = "✗"
		}
		fmt.Fprintf(out, "%s %s: %s\n", marker, c.Name, c.Message)
		if c.Fix != "" && c.Status != "pass" {
			fmt.Fprintf(out, "  fix: %s\n", c.Fix)
		}
	}

	switch report.Status {
	case "fail":
		return fmt.Errorf("preflight checks failed (%d failing)", report.Summary.Fail)
	case "warn":
		fmt.Fprintf(out, "\nChecks passed with %d warning(s).\n", report.Summary.Warn)
	default:
		fmt.Fprintf(out, "\nAll checks passed.\n")
	}
	return nil
}
