package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DefaultPolicyYAML is a guard.policy.yaml with moderate thresholds:
// 10 units per transaction, 25 per rolling day, 300 bps slippage.
const DefaultPolicyYAML = `
policy:
  version: "1.0.0"
  allowlist:
    - "allowlisted-router-x"
    - "0x1111111254EEB25477B68fb85Ed929f73A960582"
  max_slippage_bps: 300
  value_caps:
    per_tx: 10.0
    window: 25.0
    window_duration: 24h
  approval:
    max_amount: 10.0
  evaluation_mode: fail_fast
classifier:
  min_score: 0.5
  max_input_chars: 500
`

// WriteTestPolicyFile writes DefaultPolicyYAML to dir and returns its path.
func WriteTestPolicyFile(t *testing.T, dir string) string {
	t.Helper()
	return WritePolicyFile(t, dir, DefaultPolicyYAML)
}

// WritePolicyFile writes the given policy YAML to dir and returns its path.
func WritePolicyFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "guard.policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
