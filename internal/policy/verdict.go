package policy

import "time"

// Result is the final answer of the guardrail for one plan.
type Result string

const (
	ResultAllow  Result = "ALLOW"
	ResultBlock  Result = "BLOCK"
	ResultRefuse Result = "REFUSE"
)

// Rule identifiers. The first five are policy engine rules, evaluated in
// that order; the last three are reason codes the aggregator assigns. All
// eight form the fixed enumeration BLOCK/REFUSE verdicts carry.
const (
	RuleInfoLeak          = "info_leak"
	RuleAllowlist         = "allowlist"
	RuleSlippage          = "slippage"
	RuleValueCap          = "value_cap"
	RuleUnboundedApproval = "unbounded_approval"
	RuleMalformed         = "malformed"
	RuleUnclassifiedRisk  = "unclassified_risk"
	RuleCapacity          = "capacity"
)

// RuleViolation is one violated rule with its audit detail.
type RuleViolation struct {
	RuleID string `json:"rule_id"`
	Detail string `json:"detail"`
}

// Verdict is the policy decision for exactly one TxPlanDraft. BLOCK and
// REFUSE verdicts are terminal: no later stage may override them.
type Verdict struct {
	Result         Result          `json:"result"`
	RuleViolations []RuleViolation `json:"rule_violations,omitempty"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
	PolicyVersion  string          `json:"policy_version"`
	EvaluationMode string          `json:"evaluation_mode"`
}

// FirstRule returns the rule id of the first violation, or "" on ALLOW.
func (v *Verdict) FirstRule() string {
	if len(v.RuleViolations) == 0 {
		return ""
	}
	return v.RuleViolations[0].RuleID
}

// Terminal reports whether the verdict forbids forwarding.
func (v *Verdict) Terminal() bool {
	return v.Result != ResultAllow
}
