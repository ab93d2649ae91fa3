// Package config holds OPERATOR-LEVEL configuration for a txsentry process.
//
// This is infrastructure config set by whoever deploys the guardrail: data
// directory, audit signing key, policy file location, harness worker count.
// Set via env vars (TXSENTRY_*) or config file (txsentry.config.yaml).
//
// Policy thresholds (allowlist, caps, slippage) are NOT part of this config.
// They live in guard.policy.yaml and are loaded by internal/policy from a
// source the planner has no write path to. Keeping the two surfaces separate
// is what makes the "planner cannot alter rule definitions" invariant hold.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the TXSENTRY_ prefix
// (e.g. "signing_key" → TXSENTRY_SIGNING_KEY) and to a YAML field
// in txsentry.config.yaml.
const (
	KeyDataDir        = "data_dir"
	KeySigningKey     = "signing_key"
	KeyPolicyFile     = "policy_file"
	KeyHarnessWorkers = "harness_workers"
	KeyCaseTimeoutMS  = "case_timeout_ms"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default — when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultPolicyFile     = "guard.policy.yaml"
	DefaultHarnessWorkers = 8
	DefaultCaseTimeoutMS  = 250
)

// Config holds resolved operator-level configuration for a txsentry process.
type Config struct {
	DataDir        string // Base directory for audit DB and harness artifacts (~/.txsentry)
	SigningKey     string // HMAC-SHA256 key for audit record signing (≥32 bytes)
	PolicyFile     string // Policy limits filename, resolved against DataDir unless absolute
	HarnessWorkers int    // Bounded worker pool size for corpus replay
	CaseTimeoutMS  int    // Per-case execution budget for the harness

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the signing key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// RunsDir returns the directory harness run artifacts are written under.
func (c *Config) RunsDir() string {
	return filepath.Join(c.DataDir, "runs")
}

// PolicyPath returns the policy file path, resolved against DataDir when relative.
func (c *Config) PolicyPath() string {
	if filepath.IsAbs(c.PolicyFile) {
		return c.PolicyFile
	}
	return filepath.Join(c.DataDir, c.PolicyFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKey logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKey() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default TXSENTRY_SIGNING_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("TXSENTRY")
	viper.AutomaticEnv()
	viper.SetDefault(KeyPolicyFile, DefaultPolicyFile)
	viper.SetDefault(KeyHarnessWorkers, DefaultHarnessWorkers)
	viper.SetDefault(KeyCaseTimeoutMS, DefaultCaseTimeoutMS)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config. Validation failures
// here are fatal by design: the pipeline must not run with undefined
// infrastructure settings.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:        resolveDataDir(),
		SigningKey:     viper.GetString(KeySigningKey),
		PolicyFile:     viper.GetString(KeyPolicyFile),
		HarnessWorkers: viper.GetInt(KeyHarnessWorkers),
		CaseTimeoutMS:  viper.GetInt(KeyCaseTimeoutMS),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".txsentry"
	}
	return filepath.Join(home, ".txsentry")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong — it
// exists solely so `txsentry check` works out of the box while still signing
// audit records with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("txsentry:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.PolicyFile == "" {
		return fmt.Errorf("policy_file must not be empty")
	}
	if c.HarnessWorkers <= 0 {
		return fmt.Errorf("harness_workers must be positive")
	}
	if c.CaseTimeoutMS <= 0 {
		return fmt.Errorf("case_timeout_ms must be positive")
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or 64+ hex characters
// (decoded length ≥32 for HMAC-SHA256). Hex is checked first (disjoint from
// raw) so that hex format is validated; raw is accepted otherwise when n ≥ 32.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && isHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set TXSENTRY_SIGNING_KEY", n)
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
