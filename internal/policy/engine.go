package policy

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed rego/*.rego
var embeddedRules embed.FS

// guardRule maps one Rego module to its rule id, OPA deny query and the
// result a violation produces. The slice order IS the evaluation order;
// info_leak comes first and is the only rule that refuses.
type guardRule struct {
	id     string
	file   string
	query  string
	onDeny Result
}

var guardRules = []guardRule{
	{id: RuleInfoLeak, file: "rego/info_leak.rego", query: "data.txsentry.policy.info_leak.deny", onDeny: ResultRefuse},
	{id: RuleAllowlist, file: "rego/allowlist.rego", query: "data.txsentry.policy.allowlist.deny", onDeny: ResultBlock},
	{id: RuleSlippage, file: "rego/slippage.rego", query: "data.txsentry.policy.slippage.deny", onDeny: ResultBlock},
	{id: RuleValueCap, file: "rego/value_cap.rego", query: "data.txsentry.policy.value_cap.deny", onDeny: ResultBlock},
	{id: RuleUnboundedApproval, file: "rego/unbounded_approval.rego", query: "data.txsentry.policy.unbounded_approval.deny", onDeny: ResultBlock},
}

// Input is everything a rule may depend on. Rules are pure functions of this
// struct plus the loaded limits — no I/O, no model call, no clock reads.
type Input struct {
	// Plan is the generic projection of a validated TxPlanDraft
	// (plan.TxPlanDraft.PolicyInput()). May be sparse or nil in degraded
	// paths; rules resolve missing fields to denial, never to allowance.
	Plan map[string]interface{}
	// Tags are the classifier risk tags for the originating input.
	Tags []string
	// WindowTotal is the owner's committed rolling-window total, in the
	// normalized unit, excluding the plan under evaluation.
	WindowTotal float64
}

// Engine evaluates the fixed rule set using embedded OPA with precompiled
// queries. Construction pins the limits; the engine is immutable afterwards.
type Engine struct {
	limits   *Limits
	prepared map[string]rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with precompiled Rego rules. The limits
// are serialized to JSON and loaded as OPA data.
func NewEngine(ctx context.Context, limits *Limits) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	data, err := limitsToData(limits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	prepared := make(map[string]rego.PreparedEvalQuery, len(guardRules))
	for _, gr := range guardRules {
		content, err := embeddedRules.ReadFile(gr.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded rule %s: %w", gr.file, err)
		}

		store := inmem.NewFromObject(map[string]interface{}{"policy": data})

		r := rego.New(
			rego.Query(gr.query),
			rego.Module(gr.file, string(content)),
			rego.Store(store),
		)

		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing rule %s: %w", gr.file, err)
		}
		prepared[gr.id] = pq
	}

	span.SetAttributes(attribute.Int("policy.prepared_count", len(prepared)))

	return &Engine{limits: limits, prepared: prepared}, nil
}

// Limits returns the immutable limits the engine was built with.
func (e *Engine) Limits() *Limits { return e.limits }

// Evaluate runs the ordered rule set against one plan and returns a verdict.
// In fail_fast mode evaluation stops at the first violated rule; in
// fail_complete mode all rules are enumerated for the audit record. The
// first violation — and therefore the verdict — is identical in both modes.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("policy.version", e.limits.VersionTag),
			attribute.String("policy.mode", e.limits.Policy.EvaluationMode),
		))
	defer span.End()

	verdict := &Verdict{
		Result:         ResultAllow,
		EvaluatedAt:    time.Now().UTC(),
		PolicyVersion:  e.limits.VersionTag,
		EvaluationMode: e.limits.Policy.EvaluationMode,
	}

	plan := in.Plan
	if plan == nil {
		plan = map[string]interface{}{}
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	opaInput := map[string]interface{}{
		"plan":         plan,
		"tags":         tags,
		"window_total": in.WindowTotal,
	}

	for _, gr := range guardRules {
		details, err := e.evaluateDeny(ctx, gr.id, opaInput)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if len(details) == 0 {
			continue
		}

		for _, d := range details {
			verdict.RuleViolations = append(verdict.RuleViolations, RuleViolation{RuleID: gr.id, Detail: d})
		}
		if verdict.Result == ResultAllow || gr.onDeny == ResultRefuse {
			verdict.Result = gr.onDeny
		}

		// REFUSE short-circuits everything; fail_fast stops at the first
		// violated rule either way.
		if gr.onDeny == ResultRefuse || e.limits.Policy.EvaluationMode == ModeFailFast {
			break
		}
	}

	span.SetAttributes(
		attribute.String("policy.result", string(verdict.Result)),
		attribute.Int("policy.violations", len(verdict.RuleViolations)),
	)
	if verdict.Result == ResultAllow {
		span.SetStatus(codes.Ok, "policy evaluation passed")
	}

	return verdict, nil
}

// evaluateDeny runs one prepared deny query and extracts its messages,
// sorted for deterministic ordering (Rego sets are unordered).
func (e *Engine) evaluateDeny(ctx context.Context, ruleID string, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s not prepared", ruleID)
	}

	rs, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating rule %s: %w", ruleID, err)
	}

	var details []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			msgs, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, m := range msgs {
				if s, ok := m.(string); ok {
					details = append(details, s)
				}
			}
		}
	}
	sort.Strings(details)
	return details, nil
}
