package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/config"
	"github.com/txsentry/txsentry/internal/evidence"
	"github.com/txsentry/txsentry/internal/policy"
)

var (
	auditResult  string
	auditInputID string
	auditLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the signed audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	RunE:  auditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [audit-id]",
	Short: "Verify HMAC signature of an audit record",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditResult, "result", "", "Filter by verdict result (ALLOW, BLOCK, REFUSE)")
	auditListCmd.Flags().StringVar(&auditInputID, "input", "", "Filter by input id")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*evidence.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return evidence.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, evidence.Filter{
		Result:  policy.Result(auditResult),
		InputID: auditInputID,
		Limit:   auditLimit,
	})
	if err != nil {
		return fmt.Errorf("querying audit records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No audit records found.")
		return nil
	}
	renderAuditList(os.Stdout, records)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	auditID := args[0]

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	valid, err := store.Verify(ctx, auditID)
	if err != nil {
		return fmt.Errorf("verifying audit record: %w", err)
	}
	renderVerifyResult(os.Stdout, auditID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", auditID)
	}
	return nil
}

// renderAuditList writes audit record lines to w (testable).
func renderAuditList(w io.Writer, records []evidence.AuditRecord) {
	fmt.Fprintf(w, "Audit Records (showing %d):\n\n", len(records))
	for i := range records {
		rec := &records[i]
		status := "✓"
		if rec.Verdict.Result != policy.ResultAllow {
			status = "✗"
		}
		rule := rec.Verdict.FirstRule()
		if rule == "" {
			rule = "-"
		}
		fmt.Fprintf(w, "  %s %s | %s | %s | %s | %s | %dms\n",
			status,
			rec.ID,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.Verdict.Result,
			rule,
			rec.InputID,
			rec.LatencyMS,
		)
	}
}

// renderVerifyResult writes verify outcome to w (testable).
func renderVerifyResult(w io.Writer, auditID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Audit record %s: signature VALID (HMAC-SHA256 intact)\n", auditID)
	} else {
		fmt.Fprintf(w, "✗ Audit record %s: signature INVALID (possible tampering)\n", auditID)
	}
}
