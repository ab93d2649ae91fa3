package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/classifier"
	"github.com/txsentry/txsentry/internal/policy"
)

var (
	checkText     string
	checkPlanFile string
	checkPlanJSON string
	checkRole     string
	checkOwner    string
	checkPolicy   string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one guardrail decision from the command line",
	Long: `Evaluates a single raw input plus planner output and prints the verdict
as JSON on stdout. Exit code 0 means ALLOW; 1 means BLOCK or REFUSE.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkText, "text", "", "raw input text (required)")
	checkCmd.Flags().StringVar(&checkPlanFile, "plan-file", "", "path to planner output JSON")
	checkCmd.Flags().StringVar(&checkPlanJSON, "plan", "", "planner output JSON inline")
	checkCmd.Flags().StringVar(&checkRole, "role", "unknown", "sender role (owner, adversary, unknown)")
	checkCmd.Flags().StringVar(&checkOwner, "owner", "local", "owner identity for window accounting")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "policy limits file (default: from config)")
	_ = checkCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "check")
	defer span.End()

	var rawPlan []byte
	switch {
	case checkPlanFile != "" && checkPlanJSON != "":
		return fmt.Errorf("--plan and --plan-file are mutually exclusive")
	case checkPlanFile != "":
		content, err := os.ReadFile(checkPlanFile)
		if err != nil {
			return fmt.Errorf("reading plan file: %w", err)
		}
		rawPlan = content
	case checkPlanJSON != "":
		rawPlan = []byte(checkPlanJSON)
	}

	p, store, _, err := buildPipeline(ctx, checkPolicy, true)
	if err != nil {
		return err
	}
	defer store.Close()

	msg := classifier.RawMessage{
		SenderRole: classifier.SenderRole(checkRole),
		OwnerID:    checkOwner,
		Text:       checkText,
		ReceivedAt: time.Now().UTC(),
	}

	out, err := p.Run(ctx, msg, rawPlan)
	if err != nil {
		return fmt.Errorf("running decision: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}

	if out.Verdict.Result != policy.ResultAllow {
		// Non-zero exit so shell pipelines can gate on the verdict.
		cmd.SilenceUsage = true
		return fmt.Errorf("verdict %s (%s)", out.Verdict.Result, out.Verdict.FirstRule())
	}
	return nil
}
