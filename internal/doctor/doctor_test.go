package doctor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txsentry/txsentry/internal/config"
	"github.com/txsentry/txsentry/internal/testutil"
)

func setupEnv(t *testing.T, withPolicy bool) string {
	t.Helper()
	dir := t.TempDir()
	viper.Reset()
	viper.SetEnvPrefix("TXSENTRY")
	viper.AutomaticEnv()
	viper.SetDefault(config.KeyPolicyFile, config.DefaultPolicyFile)
	viper.SetDefault(config.KeyHarnessWorkers, config.DefaultHarnessWorkers)
	viper.SetDefault(config.KeyCaseTimeoutMS, config.DefaultCaseTimeoutMS)
	viper.Set(config.KeyDataDir, dir)
	if withPolicy {
		path := filepath.Join(dir, config.DefaultPolicyFile)
		require.NoError(t, os.WriteFile(path, []byte(testutil.DefaultPolicyYAML), 0o600))
	}
	return dir
}

func checkByName(t *testing.T, report *Report, name string) CheckResult {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func TestRunHealthyDeployment(t *testing.T) {
	setupEnv(t, true)
	viper.Set(config.KeySigningKey, strings.Repeat("a", 64))

	report := Run(context.Background())

	assert.Equal(t, "pass", report.Status)
	assert.Equal(t, 0, report.Summary.Fail)
	assert.Equal(t, 0, report.Summary.Warn)

	policyCheck := checkByName(t, report, "policy_valid")
	assert.Contains(t, policyCheck.Message, "sha256:")
}

func TestRunWarnsOnDefaultSigningKey(t *testing.T) {
	setupEnv(t, true)

	report := Run(context.Background())

	assert.Equal(t, "warn", report.Status)
	keyCheck := checkByName(t, report, "signing_key")
	assert.Equal(t, "warn", keyCheck.Status)
	assert.Contains(t, keyCheck.Fix, "TXSENTRY_SIGNING_KEY")
}

func TestRunFailsOnMissingPolicy(t *testing.T) {
	setupEnv(t, false)

	report := Run(context.Background())

	assert.Equal(t, "fail", report.Status)
	policyCheck := checkByName(t, report, "policy_valid")
	assert.Equal(t, "fail", policyCheck.Status)
	assert.NotEmpty(t, policyCheck.Fix)
}

func TestRunFailsOnInvalidPolicy(t *testing.T) {
	dir := setupEnv(t, false)
	path := filepath.Join(dir, config.DefaultPolicyFile)
	require.NoError(t, os.WriteFile(path, []byte("allowed_recipients: 42\n"), 0o600))

	report := Run(context.Background())

	policyCheck := checkByName(t, report, "policy_valid")
	assert.Equal(t, "fail", policyCheck.Status)
}
