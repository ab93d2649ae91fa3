package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLimitsYAML = `
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

func testLimits(t *testing.T) *Limits {
	t.Helper()
	limits, err := ParseLimits([]byte(testLimitsYAML))
	require.NoError(t, err)
	return limits
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), testLimits(t))
	require.NoError(t, err)
	return eng
}

func swapPlan(overrides map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{
		"action":             "swap",
		"from_token":         "ETH",
		"to_token":           "USDC",
		"amount":             1.0,
		"recipient":          "allowlisted-router-x",
		"slippage_bps":       100,
		"unlimited_approval": false,
	}
	for k, v := range overrides {
		p[k] = v
	}
	return p
}

func TestEvaluateAllowsCompliantSwap(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{Plan: swapPlan(nil)})
	require.NoError(t, err)

	assert.Equal(t, ResultAllow, v.Result)
	assert.Empty(t, v.RuleViolations)
	assert.Equal(t, eng.Limits().VersionTag, v.PolicyVersion)
}

func TestEvaluateBlocksUnknownRecipient(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{"recipient": "attacker.eth"}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleAllowlist, v.FirstRule())
}

func TestEvaluateAllowlistIsCaseInsensitive(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{"recipient": "ALLOWLISTED-ROUTER-X"}),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultAllow, v.Result)
}

func TestEvaluateBlocksExcessiveSlippage(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{"slippage_bps": 5000}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleSlippage, v.FirstRule())
}

func TestEvaluateBlocksPerTxCap(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{"amount": 11.0}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleValueCap, v.FirstRule())
}

func TestEvaluateBlocksRollingWindowCap(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan:        swapPlan(map[string]interface{}{"amount": 6.0}),
		WindowTotal: 20.0,
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleValueCap, v.FirstRule())
}

func TestEvaluateBlocksUnlimitedApproval(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{
			"action":             "approve",
			"unlimited_approval": true,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleUnboundedApproval, v.FirstRule())
}

func TestEvaluateBlocksOversizedApprovalScope(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{
			"action": "approve",
			"amount": 10.5,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	// amount 10.5 also exceeds per_tx; value_cap is evaluated before
	// unbounded_approval, so it wins the first-violation slot.
	assert.Equal(t, RuleValueCap, v.FirstRule())
}

func TestEvaluateRefusesInfoLeakProbeOverAllowablePlan(t *testing.T) {
	eng := testEngine(t)
	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(nil), // ALLOW-eligible content
		Tags: []string{"info-leak-probe"},
	})
	require.NoError(t, err)

	assert.Equal(t, ResultRefuse, v.Result)
	assert.Equal(t, RuleInfoLeak, v.FirstRule())
	assert.Len(t, v.RuleViolations, 1) // short-circuits all other rules
}

func TestEvaluateDefaultDenyOnMissingFields(t *testing.T) {
	eng := testEngine(t)

	// Missing recipient resolves to BLOCK via allowlist.
	p := swapPlan(nil)
	delete(p, "recipient")
	v, err := eng.Evaluate(context.Background(), Input{Plan: p})
	require.NoError(t, err)
	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleAllowlist, v.FirstRule())

	// Missing slippage resolves to BLOCK via slippage, never ALLOW.
	p = swapPlan(nil)
	delete(p, "slippage_bps")
	v, err = eng.Evaluate(context.Background(), Input{Plan: p})
	require.NoError(t, err)
	assert.Equal(t, ResultBlock, v.Result)
	assert.Equal(t, RuleSlippage, v.FirstRule())

	// An entirely absent plan blocks too.
	v, err = eng.Evaluate(context.Background(), Input{Plan: nil})
	require.NoError(t, err)
	assert.Equal(t, ResultBlock, v.Result)
}

func TestEvaluateFailCompleteEnumeratesAllViolations(t *testing.T) {
	limits := testLimits(t)
	limits.Policy.EvaluationMode = ModeFailComplete
	eng, err := NewEngine(context.Background(), limits)
	require.NoError(t, err)

	v, err := eng.Evaluate(context.Background(), Input{
		Plan: swapPlan(map[string]interface{}{
			"recipient":    "attacker.eth",
			"slippage_bps": 5000,
			"amount":       99.0,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBlock, v.Result)
	// First violation matches fail_fast ordering.
	assert.Equal(t, RuleAllowlist, v.FirstRule())
	rules := map[string]bool{}
	for _, viol := range v.RuleViolations {
		rules[viol.RuleID] = true
	}
	assert.True(t, rules[RuleAllowlist])
	assert.True(t, rules[RuleSlippage])
	assert.True(t, rules[RuleValueCap])
}

func TestEvaluateDeterministic(t *testing.T) {
	eng := testEngine(t)
	in := Input{Plan: swapPlan(map[string]interface{}{"recipient": "attacker.eth"})}

	a, err := eng.Evaluate(context.Background(), in)
	require.NoError(t, err)
	b, err := eng.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, a.Result, b.Result)
	assert.Equal(t, a.RuleViolations, b.RuleViolations)
}
