// Package plan defines the transaction plan record produced by the external
// planner and the structural validator (L1-post) that turns opaque planner
// output into a well-typed draft.
package plan

import "fmt"

// Action is the transaction type a plan proposes.
type Action string

const (
	ActionSwap     Action = "swap"
	ActionApprove  Action = "approve"
	ActionTransfer Action = "transfer"
)

// TxPlanDraft is an unsigned, structured description of a proposed
// transaction. It is produced by the external planner and consumed
// read-only; policy decisions act on it, they never rewrite it.
//
// Amount and EstimatedFeeNetwork are in the normalized unit (whole tokens,
// e.g. ETH), not wei — value caps are configured in the same unit.
type TxPlanDraft struct {
	Action              Action  `json:"action"`
	FromToken           string  `json:"from_token"`
	ToToken             string  `json:"to_token"`
	Amount              float64 `json:"amount"`
	Recipient           string  `json:"recipient"`
	SlippageBps         int     `json:"slippage_bps"`
	UnlimitedApproval   bool    `json:"unlimited_approval,omitempty"`
	EstimatedFeeNetwork float64 `json:"estimated_fee_network,omitempty"`
	SourceMarketDataRef string  `json:"source_market_data_ref,omitempty"`
}

// PolicyInput projects the draft into the generic map the policy engine
// evaluates. Only enumerated fields cross this boundary: anything else the
// planner emitted (self-assertions included) is dropped here.
func (p *TxPlanDraft) PolicyInput() map[string]interface{} {
	return map[string]interface{}{
		"action":             string(p.Action),
		"from_token":         p.FromToken,
		"to_token":           p.ToToken,
		"amount":             p.Amount,
		"recipient":          p.Recipient,
		"slippage_bps":       p.SlippageBps,
		"unlimited_approval": p.UnlimitedApproval,
	}
}

// SchemaError reports the first missing or invalid field in planner output.
// It is a recoverable per-plan condition, converted by the aggregator into a
// BLOCK verdict — never a crash.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("plan schema: field %q: %s", e.Field, e.Reason)
}
