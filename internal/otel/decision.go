package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic attributes for guardrail decisions.
const (
	DecisionResult    = attribute.Key("guardrail.decision.result") // "ALLOW", "BLOCK", "REFUSE"
	DecisionRule      = attribute.Key("guardrail.decision.rule")   // first violated rule id, "" on ALLOW
	DecisionLatencyMS = attribute.Key("guardrail.decision.latency_ms")
	InputRiskTags     = attribute.Key("guardrail.input.risk_tags")
	PolicyVersion     = attribute.Key("guardrail.policy.version")
)

var (
	decisionOnce    sync.Once
	decisionCounter metric.Int64Counter
)

// RecordDecision increments the decisions counter, dimensioned by result and
// first violated rule. Lazily creates the instrument so callers need no setup.
func RecordDecision(ctx context.Context, result, rule string) {
	decisionOnce.Do(func() {
		meter := otel.Meter("github.com/txsentry/txsentry/internal/otel")
		decisionCounter, _ = meter.Int64Counter("txsentry.decisions",
			metric.WithDescription("Guardrail verdicts by result and rule"))
	})
	if decisionCounter == nil {
		return
	}
	decisionCounter.Add(ctx, 1, metric.WithAttributes(
		DecisionResult.String(result),
		DecisionRule.String(rule),
	))
}

// DecisionAttributes creates standard attributes for a verdict span.
func DecisionAttributes(result, rule string, latencyMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		DecisionResult.String(result),
		DecisionRule.String(rule),
		DecisionLatencyMS.Int64(latencyMS),
	}
}
