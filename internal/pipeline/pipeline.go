// Package pipeline wires the guardrail stages into a single decision path:
// classify the raw input, validate the planner draft, evaluate policy, and
// emit exactly one signed audit record per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/txsentry/txsentry/internal/classifier"
	"github.com/txsentry/txsentry/internal/evidence"
	txotel "github.com/txsentry/txsentry/internal/otel"
	"github.com/txsentry/txsentry/internal/plan"
	"github.com/txsentry/txsentry/internal/policy"
	"github.com/txsentry/txsentry/internal/window"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/pipeline")

// Outcome is the result of one pipeline run. Plan is non-nil only when the
// verdict is ALLOW; blocked and refused runs never expose a draft downstream.
type Outcome struct {
	Verdict        *policy.Verdict       `json:"verdict"`
	Audit          *evidence.AuditRecord `json:"audit"`
	Classification *classifier.Result    `json:"classification"`
	Plan           *plan.TxPlanDraft     `json:"plan,omitempty"`
}

// Pipeline runs the full guardrail decision path. All stages are constructed
// once and reused; the pipeline is safe for concurrent use.
type Pipeline struct {
	scanner   *classifier.Scanner
	validator *plan.Validator
	engine    *policy.Engine
	tracker   *window.Tracker
	store     *evidence.Store
	now       func() time.Time
}

// New assembles a pipeline from its stages. A nil store disables audit
// persistence (evaluation-harness runs score verdicts without a database);
// the verdict path is otherwise identical.
func New(scanner *classifier.Scanner, validator *plan.Validator, engine *policy.Engine, tracker *window.Tracker, store *evidence.Store) *Pipeline {
	return &Pipeline{
		scanner:   scanner,
		validator: validator,
		engine:    engine,
		tracker:   tracker,
		store:     store,
		now:       time.Now,
	}
}

// FromLimits builds a pipeline whose scanner and window tracker are tuned by
// the same limits file the engine enforces.
func FromLimits(ctx context.Context, limits *policy.Limits, patternFile string, store *evidence.Store) (*Pipeline, error) {
	scanner, err := classifier.NewScanner(
		classifier.WithMinScore(limits.Classifier.MinScore),
		classifier.WithMaxInputChars(limits.Classifier.MaxInputChars),
		classifier.WithPatternFile(patternFile),
	)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}

	validator, err := plan.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("building plan validator: %w", err)
	}

	engine, err := policy.NewEngine(ctx, limits)
	if err != nil {
		return nil, fmt.Errorf("building policy engine: %w", err)
	}

	windowDur, err := limits.WindowDuration()
	if err != nil {
		return nil, fmt.Errorf("parsing window duration: %w", err)
	}

	return New(scanner, validator, engine, window.NewTracker(windowDur), store), nil
}

// PolicyVersion returns the content-hash tag of the limits in force.
func (p *Pipeline) PolicyVersion() string {
	return p.engine.Limits().VersionTag
}

// EvaluationMode returns the configured rule evaluation mode.
func (p *Pipeline) EvaluationMode() string {
	return p.engine.Limits().Policy.EvaluationMode
}

// Isolated returns a copy of the pipeline with its own empty rolling window
// and no audit store. Corpus replays run against isolated copies so case
// order and prior runs cannot influence a verdict.
func (p *Pipeline) Isolated() *Pipeline {
	return &Pipeline{
		scanner:   p.scanner,
		validator: p.validator,
		engine:    p.engine,
		tracker:   window.NewTracker(p.tracker.Duration()),
		now:       p.now,
	}
}

// Run makes one guardrail decision for a raw message and the planner draft it
// produced. rawPlan may be empty when the planner emitted nothing; that is a
// malformed-plan BLOCK, not an error. The returned error covers only
// infrastructure failures (policy engine fault, audit write); every
// input-dependent condition maps to a verdict.
func (p *Pipeline) Run(ctx context.Context, msg classifier.RawMessage, rawPlan []byte) (*Outcome, error) {
	start := p.now()
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	cls := p.scanner.Classify(ctx, msg)
	span.SetAttributes(
		attribute.String("input.id", cls.InputID),
		attribute.StringSlice("input.risk_tags", cls.RiskTags),
	)

	verdict, draft, reservation, err := p.decide(ctx, cls, msg.OwnerID, rawPlan)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if verdict.Result != policy.ResultAllow && reservation != nil {
		p.tracker.Release(reservation)
		reservation = nil
	}

	latency := p.now().Sub(start).Milliseconds()
	rec := &evidence.AuditRecord{
		ID:                 evidence.NewRecordID(),
		InputID:            cls.InputID,
		OwnerRef:           evidence.OwnerRef(msg.OwnerID),
		CreatedAt:          p.now().UTC(),
		ClassificationTags: cls.RiskTags,
		SchemaValid:        draft != nil,
		Verdict:            *verdict,
		LatencyMS:          latency,
	}

	if p.store != nil {
		if err := p.store.Append(ctx, rec); err != nil {
			// Fail closed: a decision that cannot be audited is not
			// released, even if it would have been ALLOW.
			if reservation != nil {
				p.tracker.Release(reservation)
			}
			return nil, fmt.Errorf("appending audit record: %w", err)
		}
	}

	txotel.RecordDecision(ctx, string(verdict.Result), verdict.FirstRule())
	span.SetAttributes(txotel.DecisionAttributes(string(verdict.Result), verdict.FirstRule(), latency)...)

	logEvent := log.Info()
	if verdict.Result != policy.ResultAllow {
		logEvent = log.Warn()
	}
	logEvent.
		Str("input_id", cls.InputID).
		Str("audit_id", rec.ID).
		Str("result", string(verdict.Result)).
		Str("rule", verdict.FirstRule()).
		Int64("latency_ms", latency).
		Func(txotel.LogTraceFields(ctx)).
		Msg("guardrail decision")

	out := &Outcome{Verdict: verdict, Audit: rec, Classification: cls}
	if verdict.Result == policy.ResultAllow {
		out.Plan = draft
	}
	return out, nil
}

// decide produces the verdict for one run, observing the fixed precedence:
// info-leak probes refuse before the plan is even inspected, malformed plans
// block before policy runs, and uncovered risk tags demote a would-be ALLOW.
func (p *Pipeline) decide(ctx context.Context, cls *classifier.Result, ownerID string, rawPlan []byte) (*policy.Verdict, *plan.TxPlanDraft, *window.Reservation, error) {
	// Secret-extraction probes are refused outright. The plan is irrelevant:
	// whatever the planner produced, the conversation itself is hostile.
	if cls.HasTag(classifier.TagInfoLeakProbe) {
		verdict, err := p.engine.Evaluate(ctx, policy.Input{Tags: cls.RiskTags})
		if err != nil {
			return nil, nil, nil, err
		}
		return verdict, nil, nil, nil
	}

	draft, err := p.validator.Validate(ctx, rawPlan)
	if err != nil {
		var schemaErr *plan.SchemaError
		if !errors.As(err, &schemaErr) {
			return nil, nil, nil, err
		}
		return p.syntheticVerdict(policy.ResultBlock, policy.RuleMalformed, schemaErr.Error()), nil, nil, nil
	}

	reservation, err := p.tracker.Reserve(ownerID, draft.Amount)
	if err != nil {
		if !errors.Is(err, window.ErrCapacityExceeded) {
			return nil, draft, nil, err
		}
		return p.syntheticVerdict(policy.ResultBlock, policy.RuleCapacity, "window tracker contention exceeded retry budget"), draft, nil, nil
	}

	verdict, err := p.engine.Evaluate(ctx, policy.Input{
		Plan:        draft.PolicyInput(),
		Tags:        cls.RiskTags,
		WindowTotal: reservation.PriorTotal,
	})
	if err != nil {
		p.tracker.Release(reservation)
		return nil, draft, nil, err
	}

	// Risk tags no policy rule covers must not pass silently, but they only
	// demote: a rule-based BLOCK already names a more specific reason.
	if verdict.Result == policy.ResultAllow {
		if uncovered := uncoveredTags(cls.RiskTags); len(uncovered) > 0 {
			verdict.Result = policy.ResultBlock
			verdict.RuleViolations = append(verdict.RuleViolations, policy.RuleViolation{
				RuleID: policy.RuleUnclassifiedRisk,
				Detail: fmt.Sprintf("input carries unhandled risk tags %v", uncovered),
			})
		}
	}

	return verdict, draft, reservation, nil
}

// syntheticVerdict builds a verdict for conditions the aggregator decides
// itself, stamped with the same policy version the engine would use.
func (p *Pipeline) syntheticVerdict(result policy.Result, ruleID, detail string) *policy.Verdict {
	limits := p.engine.Limits()
	return &policy.Verdict{
		Result:         result,
		RuleViolations: []policy.RuleViolation{{RuleID: ruleID, Detail: detail}},
		EvaluatedAt:    p.now().UTC(),
		PolicyVersion:  limits.VersionTag,
		EvaluationMode: limits.Policy.EvaluationMode,
	}
}

// uncoveredTags returns the risk tags without a dedicated policy rule.
func uncoveredTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t != classifier.TagInfoLeakProbe {
			out = append(out, t)
		}
	}
	return out
}
