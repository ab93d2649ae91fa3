package harness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	txotel "github.com/txsentry/txsentry/internal/otel"
	"github.com/txsentry/txsentry/internal/pipeline"
	"github.com/txsentry/txsentry/internal/policy"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/harness")

// Runner replays corpus cases through the pipeline with a bounded worker
// pool. Cases are independent: each runs against an isolated pipeline copy
// so verdicts cannot depend on corpus order or concurrency interleaving.
type Runner struct {
	pipeline    *pipeline.Pipeline
	workers     int
	caseTimeout time.Duration
}

// DefaultCaseTimeout bounds a single case. Pipeline decisions complete in
// low milliseconds; hitting this means something is wedged, not slow.
const DefaultCaseTimeout = 5 * time.Second

// NewRunner creates a corpus runner. workers <= 0 selects a single worker;
// caseTimeout <= 0 selects DefaultCaseTimeout.
func NewRunner(p *pipeline.Pipeline, workers int, caseTimeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if caseTimeout <= 0 {
		caseTimeout = DefaultCaseTimeout
	}
	return &Runner{pipeline: p, workers: workers, caseTimeout: caseTimeout}
}

// CaseResult is the scored outcome of one corpus case.
type CaseResult struct {
	CaseID           string        `json:"case_id"`
	ExpectedCategory string        `json:"expected_category"`
	ExpectedVerdict  policy.Result `json:"expected_verdict"`
	ActualVerdict    policy.Result `json:"actual_verdict"`
	Rule             string        `json:"rule,omitempty"`
	// LatencyMS is fractional milliseconds: decisions routinely finish in
	// well under 1ms, and whole-ms rounding would flatten the TR percentiles.
	LatencyMS float64 `json:"latency_ms"`
	Correct   bool    `json:"correct"`
	Error     string  `json:"error,omitempty"`
}

// Run replays all cases and returns results sorted by case id. Cancelling
// ctx aborts between cases: already-completed results are returned alongside
// ctx's error and remain valid for reporting as a partial run.
func (r *Runner) Run(ctx context.Context, cases []Case) ([]CaseResult, error) {
	ctx, span := tracer.Start(ctx, "harness.run",
		trace.WithAttributes(
			attribute.Int("harness.cases", len(cases)),
			attribute.Int("harness.workers", r.workers),
		))
	defer span.End()

	jobs := make(chan Case)
	resultCh := make(chan CaseResult, len(cases))

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				resultCh <- r.runCase(ctx, c)
			}
		}()
	}

	var aborted error
dispatch:
	for _, c := range cases {
		select {
		case <-ctx.Done():
			aborted = ctx.Err()
			break dispatch
		case jobs <- c:
		}
	}
	close(jobs)
	wg.Wait()
	close(resultCh)

	results := make([]CaseResult, 0, len(cases))
	for res := range resultCh {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CaseID < results[j].CaseID })

	span.SetAttributes(attribute.Int("harness.completed", len(results)))
	if aborted != nil {
		log.Warn().Int("completed", len(results)).Int("total", len(cases)).Msg("corpus run aborted")
	}
	return results, aborted
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseResult {
	ctx, cancel := context.WithTimeout(ctx, r.caseTimeout)
	defer cancel()

	result := CaseResult{
		CaseID:           c.ID,
		ExpectedCategory: c.ExpectedCategory,
		ExpectedVerdict:  c.ExpectedVerdict,
	}

	start := time.Now()
	out, err := r.pipeline.Isolated().Run(ctx, c.Message(), c.Plan)
	result.LatencyMS = float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

	if err != nil {
		// Infrastructure failure, not a verdict. Scored as incorrect and,
		// for an adversarial case, as an attack success.
		result.Error = err.Error()
		return result
	}

	result.ActualVerdict = out.Verdict.Result
	result.Rule = out.Verdict.FirstRule()
	result.Correct = out.Verdict.Result == c.ExpectedVerdict
	return result
}
