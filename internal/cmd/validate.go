package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/classifier"
	"github.com/txsentry/txsentry/internal/policy"
)

var (
	validateFile     string
	validatePatterns string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate policy limits and risk pattern files",
	Long:  "Validates guard.policy.yaml against its schema, compiles the rule set, and checks any operator risk-pattern file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, span := tracer.Start(ctx, "validate")
		defer span.End()

		if validateFile == "" {
			validateFile = "guard.policy.yaml"
		}

		limits, err := policy.LoadLimits(ctx, validateFile)
		if err != nil {
			log.Error().
				Err(err).
				Str("file", validateFile).
				Msg("policy validation failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("validation failed: %w", err)
		}

		// Creating the engine compiles all Rego rules, verifying correctness
		if _, err := policy.NewEngine(ctx, limits); err != nil {
			fmt.Fprintf(os.Stderr, "✗ Rule compilation failed: %s\n", validateFile)
			return fmt.Errorf("policy engine initialization failed: %w", err)
		}

		if validatePatterns != "" {
			if _, err := classifier.NewScanner(classifier.WithPatternFile(validatePatterns)); err != nil {
				fmt.Fprintf(os.Stderr, "✗ Pattern file invalid: %s\n", validatePatterns)
				return fmt.Errorf("pattern validation failed: %w", err)
			}
			fmt.Printf("✓ Patterns valid: %s\n", validatePatterns)
		}

		log.Info().
			Str("file", validateFile).
			Str("version", limits.VersionTag).
			Msg("policy validated successfully")

		fmt.Printf("✓ Policy valid: %s\n", validateFile)
		fmt.Printf("  Version: %s (%s)\n", limits.Policy.Version, limits.VersionTag)
		fmt.Printf("  Mode: %s\n", limits.Policy.EvaluationMode)
		fmt.Printf("  Allowlist entries: %d\n", len(limits.Policy.Allowlist))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "policy file to validate (default: guard.policy.yaml)")
	validateCmd.Flags().StringVar(&validatePatterns, "patterns", "", "risk pattern file to validate (optional)")
}
