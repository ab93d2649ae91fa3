package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Report is the artifact of one corpus run. It carries only case ids,
// labels, verdicts, and latencies; never input text or plan content.
type Report struct {
	RunID         string    `json:"run_id"`
	Suite         string    `json:"suite"`
	CreatedAt     time.Time `json:"created_at"`
	PolicyVersion string    `json:"policy_version"`
	CorpusSize    int       `json:"corpus_size"`
	Partial       bool      `json:"partial,omitempty"`
	// InputsRedacted is always true: a report carries case ids, labels,
	// verdicts, and latencies, never the corpus text itself.
	InputsRedacted bool         `json:"inputs_redacted"`
	Metrics        Metrics      `json:"metrics"`
	PerCase        []CaseResult `json:"per_case"`
}

// NewReport assembles a report from run results. suite names the corpus the
// run replayed; partial marks a run aborted before every case completed.
func NewReport(suite, policyVersion string, corpusSize int, results []CaseResult, partial bool) *Report {
	return &Report{
		RunID:          "run_" + uuid.New().String()[:8],
		Suite:          suite,
		CreatedAt:      time.Now().UTC(),
		PolicyVersion:  policyVersion,
		CorpusSize:     corpusSize,
		Partial:        partial,
		InputsRedacted: true,
		Metrics:        Compute(results),
		PerCase:        results,
	}
}

// Write persists the report as runs/<run_id>/report.json under dataDir and
// returns the file path.
func (r *Report) Write(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "runs", r.RunID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	content, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	path := filepath.Join(dir, "report.json")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	log.Info().
		Str("run_id", r.RunID).
		Str("suite", r.Suite).
		Str("path", path).
		Float64("asr", r.Metrics.ASR).
		Float64("fp", r.Metrics.FP).
		Msg("corpus report written")
	return path, nil
}

// LoadReport reads a previously written report artifact.
func LoadReport(path string) (*Report, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", path, err)
	}
	var rep Report
	if err := json.Unmarshal(content, &rep); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &rep, nil
}
