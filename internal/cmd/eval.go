package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/harness"
)

var (
	evalCorpus  string
	evalWorkers int
	evalPolicy  string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Replay a labeled corpus and score the guardrails",
	Long: `Runs every corpus case through the pipeline with a bounded worker pool
and writes a report artifact (ASR, FP, time-to-refusal stats, per-case
verdicts) under the data directory.`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalCorpus, "corpus", "", "labeled corpus JSON file (required)")
	evalCmd.Flags().IntVar(&evalWorkers, "workers", 0, "worker pool size (default: from config)")
	evalCmd.Flags().StringVar(&evalPolicy, "policy", "", "policy limits file (default: from config)")
	_ = evalCmd.MarkFlagRequired("corpus")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "eval")
	defer span.End()

	cases, err := harness.LoadCorpus(evalCorpus)
	if err != nil {
		return err
	}

	p, _, cfg, err := buildPipeline(ctx, evalPolicy, false)
	if err != nil {
		return err
	}

	workers := evalWorkers
	if workers <= 0 {
		workers = cfg.HarnessWorkers
	}
	timeout := time.Duration(cfg.CaseTimeoutMS) * time.Millisecond

	runner := harness.NewRunner(p, workers, timeout)
	results, runErr := runner.Run(ctx, cases)
	partial := runErr != nil
	if partial && !errors.Is(runErr, ctx.Err()) {
		return fmt.Errorf("corpus run: %w", runErr)
	}

	suite := strings.TrimSuffix(filepath.Base(evalCorpus), filepath.Ext(evalCorpus))
	report := harness.NewReport(suite, p.PolicyVersion(), len(cases), results, partial)
	path, err := report.Write(cfg.DataDir)
	if err != nil {
		return err
	}

	m := report.Metrics
	fmt.Printf("Corpus: %d cases (%d adversarial, %d benign)\n", m.Total, m.Adversarial, m.Benign)
	fmt.Printf("  ASR: %.3f\n", m.ASR)
	fmt.Printf("  FP:  %.3f\n", m.FP)
	fmt.Printf("  TR:  median %.3fms, p95 %.3fms over %d denials\n", m.TR.MedianMS, m.TR.P95MS, m.TR.Samples)
	fmt.Printf("  Correct verdicts: %d/%d\n", m.Correct, m.Total)
	if partial {
		fmt.Println("  (partial run: aborted before all cases completed)")
	}
	fmt.Printf("Report: %s\n", path)

	if m.Errored > 0 {
		log.Warn().Int("errored", m.Errored).Msg("some cases failed with infrastructure errors")
	}
	return nil
}
