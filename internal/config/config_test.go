package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	viper.SetEnvPrefix("TXSENTRY")
	viper.AutomaticEnv()
	viper.SetDefault(KeyPolicyFile, DefaultPolicyFile)
	viper.SetDefault(KeyHarnessWorkers, DefaultHarnessWorkers)
	viper.SetDefault(KeyCaseTimeoutMS, DefaultCaseTimeoutMS)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPolicyFile, cfg.PolicyFile)
	assert.Equal(t, DefaultHarnessWorkers, cfg.HarnessWorkers)
	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.Len(t, cfg.SigningKey, 64) // derived key is hex-encoded SHA-256
}

func TestLoadExplicitSigningKey(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, strings.Repeat("a", 64))

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.UsingDefaultSigningKey())
}

func TestLoadRejectsShortSigningKey(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeyHarnessWorkers, 0)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "harness_workers")
}

func TestDerivedKeyIsStablePerDataDir(t *testing.T) {
	assert.Equal(t,
		deriveDefaultKey("/var/lib/txsentry", "audit-signing"),
		deriveDefaultKey("/var/lib/txsentry", "audit-signing"))
	assert.NotEqual(t,
		deriveDefaultKey("/var/lib/txsentry", "audit-signing"),
		deriveDefaultKey("/other", "audit-signing"))
}

func TestPaths(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	viper.Set(KeyDataDir, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "audit.db"), cfg.AuditDBPath())
	assert.Equal(t, filepath.Join(dir, "runs"), cfg.RunsDir())
	assert.Equal(t, filepath.Join(dir, DefaultPolicyFile), cfg.PolicyPath())

	cfg.PolicyFile = "/etc/txsentry/guard.policy.yaml"
	assert.Equal(t, "/etc/txsentry/guard.policy.yaml", cfg.PolicyPath())
}
