// Package doctor provides preflight checks for a txsentry deployment.
// Used by `txsentry doctor` before enabling the decision API.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/txsentry/txsentry/internal/config"
	"github.com/txsentry/txsentry/internal/evidence"
	"github.com/txsentry/txsentry/internal/policy"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Run executes all preflight checks and returns a report.
func Run(ctx context.Context) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = []CheckResult{{
			Name: "config_load", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check TXSENTRY_DATA_DIR and config file",
		}}
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkPolicy(ctx, cfg))
		report.Checks = append(report.Checks, checkSigningKey(cfg))
		report.Checks = append(report.Checks, checkAuditDB(cfg))
	}

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Status: "fail",
			Message: fmt.Sprintf("%s — %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Status: "fail",
			Message: fmt.Sprintf("%s not writable — %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkPolicy(ctx context.Context, cfg *config.Config) CheckResult {
	policyPath := cfg.PolicyPath()
	if _, err := os.Stat(policyPath); err != nil {
		return CheckResult{
			Name: "policy_valid", Status: "fail",
			Message: fmt.Sprintf("%s — file not found", policyPath),
			Fix:     "Create a guard.policy.yaml with allowlist and caps",
		}
	}
	limits, err := policy.LoadLimits(ctx, policyPath)
	if err != nil {
		return CheckResult{
			Name: "policy_valid", Status: "fail",
			Message: fmt.Sprintf("%s — %v", policyPath, err),
		}
	}
	if _, err := policy.NewEngine(ctx, limits); err != nil {
		return CheckResult{
			Name: "policy_valid", Status: "fail",
			Message: fmt.Sprintf("%s — rule compilation: %v", policyPath, err),
		}
	}
	return CheckResult{
		Name: "policy_valid", Status: "pass",
		Message: fmt.Sprintf("%s (%s)", policyPath, limits.VersionTag),
	}
}

func checkSigningKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSigningKey() {
		return CheckResult{
			Name: "signing_key", Status: "warn",
			Message: "Using generated default",
			Fix:     "Set TXSENTRY_SIGNING_KEY for production",
		}
	}
	return CheckResult{Name: "signing_key", Status: "pass", Message: "Configured"}
}

func checkAuditDB(cfg *config.Config) CheckResult {
	store, err := evidence.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{
			Name: "audit_db", Status: "fail",
			Message: fmt.Sprintf("%v", err),
		}
	}
	_ = store.Close()
	return CheckResult{Name: "audit_db", Status: "pass", Message: cfg.AuditDBPath()}
}
