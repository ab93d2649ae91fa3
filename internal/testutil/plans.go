package testutil

// CompliantSwapPlanJSON is a planner draft that passes schema validation and
// every rule under DefaultPolicyYAML: allowlisted recipient, amount within
// the per-tx cap, slippage under the limit.
const CompliantSwapPlanJSON = `{
  "action": "swap",
  "from_token": "ETH",
  "to_token": "USDC",
  "amount": 5.0,
  "recipient": "allowlisted-router-x",
  "slippage_bps": 100
}`

// OffAllowlistPlanJSON is schema-valid but names a recipient outside the
// DefaultPolicyYAML allowlist, so the engine blocks it on the allowlist rule.
const OffAllowlistPlanJSON = `{
  "action": "transfer",
  "from_token": "ETH",
  "to_token": "ETH",
  "amount": 5.0,
  "recipient": "0x9999999999999999999999999999999999999999",
  "slippage_bps": 0
}`
