// Package policy is the L2 authority of the guardrail: a fixed, ordered rule
// set evaluated deterministically against a validated transaction plan.
// Rules are compiled from embedded Rego modules; thresholds come from
// guard.policy.yaml, a file the planner has no write path to. Nothing a
// planner or model emits can alter rule definitions or limits.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	txotel "github.com/txsentry/txsentry/internal/otel"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/policy")

// Evaluation modes. Fail-fast stops at the first violated rule; fail-complete
// enumerates every violation for the audit record. Both produce the same
// first violation, so verdicts are identical either way.
const (
	ModeFailFast     = "fail_fast"
	ModeFailComplete = "fail_complete"
)

// Limits is the parsed guard.policy.yaml. Loaded once at startup and treated
// as immutable for the lifetime of the process.
type Limits struct {
	Policy     PolicySection     `yaml:"policy" json:"policy"`
	Classifier ClassifierSection `yaml:"classifier" json:"classifier"`

	// VersionTag is "sha256:<12 hex>" of the file content, recorded in every
	// verdict so audit records pin the exact rule thresholds in force.
	VersionTag string `yaml:"-" json:"-"`
}

// PolicySection holds the rule thresholds.
type PolicySection struct {
	Version        string         `yaml:"version" json:"version"`
	Allowlist      []string       `yaml:"allowlist" json:"allowlist"`
	MaxSlippageBps int            `yaml:"max_slippage_bps" json:"max_slippage_bps"`
	ValueCaps      ValueCaps      `yaml:"value_caps" json:"value_caps"`
	Approval       ApprovalLimits `yaml:"approval" json:"approval"`
	EvaluationMode string         `yaml:"evaluation_mode" json:"evaluation_mode"`
}

// ValueCaps bounds transaction value in the normalized unit.
type ValueCaps struct {
	PerTx          float64 `yaml:"per_tx" json:"per_tx"`
	Window         float64 `yaml:"window" json:"window"`
	WindowDuration string  `yaml:"window_duration" json:"window_duration"`
}

// ApprovalLimits bounds the scope an approve action may grant.
type ApprovalLimits struct {
	MaxAmount float64 `yaml:"max_amount" json:"max_amount"`
}

// ClassifierSection tunes the input classifier.
type ClassifierSection struct {
	MinScore      float64 `yaml:"min_score" json:"min_score"`
	MaxInputChars int     `yaml:"max_input_chars" json:"max_input_chars"`
}

// WindowDuration parses the rolling window duration. Defaults are applied at
// load time, so this only fails on a hand-constructed Limits.
func (l *Limits) WindowDuration() (time.Duration, error) {
	return time.ParseDuration(l.Policy.ValueCaps.WindowDuration)
}

// ComputeHash sets VersionTag from the raw file content.
func (l *Limits) ComputeHash(content []byte) {
	h := sha256.Sum256(content)
	l.VersionTag = "sha256:" + hex.EncodeToString(h[:])[:12]
}

// LoadLimits reads, schema-validates and parses guard.policy.yaml.
// Any failure here is a ConfigError: fatal, because the pipeline must not
// run with undefined rule thresholds.
func LoadLimits(ctx context.Context, path string) (*Limits, error) {
	_, span := tracer.Start(ctx, "policy.load_limits")
	defer span.End()

	span.SetAttributes(attribute.String("policy.path", path))

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	return ParseLimits(content)
}

// ParseLimits validates and parses policy limits from YAML bytes.
func ParseLimits(content []byte) (*Limits, error) {
	if err := ValidateLimitsSchema(content); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var limits Limits
	if err := yaml.Unmarshal(content, &limits); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	applyDefaults(&limits)
	limits.ComputeHash(content)

	if err := limits.validate(); err != nil {
		return nil, err
	}

	return &limits, nil
}

func applyDefaults(l *Limits) {
	if l.Policy.EvaluationMode == "" {
		l.Policy.EvaluationMode = ModeFailFast
	}
	if l.Policy.ValueCaps.WindowDuration == "" {
		l.Policy.ValueCaps.WindowDuration = "24h"
	}
	if l.Classifier.MinScore == 0 {
		l.Classifier.MinScore = 0.5
	}
	if l.Classifier.MaxInputChars == 0 {
		l.Classifier.MaxInputChars = 500
	}
}

// validate applies business checks the JSON Schema cannot express.
func (l *Limits) validate() error {
	if l.Policy.ValueCaps.Window < l.Policy.ValueCaps.PerTx {
		return fmt.Errorf("value_caps.window (%v) must be >= value_caps.per_tx (%v)",
			l.Policy.ValueCaps.Window, l.Policy.ValueCaps.PerTx)
	}
	if _, err := l.WindowDuration(); err != nil {
		return fmt.Errorf("value_caps.window_duration: %w", err)
	}
	if l.Policy.EvaluationMode != ModeFailFast && l.Policy.EvaluationMode != ModeFailComplete {
		return fmt.Errorf("evaluation_mode must be %q or %q (got %q)",
			ModeFailFast, ModeFailComplete, l.Policy.EvaluationMode)
	}
	return nil
}

// limitsToData converts the policy section to the generic map loaded as OPA
// data, so Rego rules see exactly the configured thresholds.
func limitsToData(l *Limits) (map[string]interface{}, error) {
	raw, err := json.Marshal(l.Policy)
	if err != nil {
		return nil, fmt.Errorf("marshaling policy limits: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshaling policy limits: %w", err)
	}
	return data, nil
}
