// Package classifier is the L1-pre input stage: it tags raw user text with
// risk tags before any plan is built from it. Classification is advisory —
// the aggregator decides what a tag means; the classifier never blocks and
// never mutates the message it is given.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	txotel "github.com/txsentry/txsentry/internal/otel"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/classifier")

// DefaultMinScore is the minimum pattern confidence for a match to
// contribute its risk tag. Matching itself is pure regex, so for a fixed
// configuration the same text always yields the same tags.
const DefaultMinScore = 0.5

// DefaultMaxInputChars bounds accepted input length. Longer input is not an
// error; it is tagged unclassifiable and left to the aggregator.
const DefaultMaxInputChars = 500

// SenderRole identifies who a raw message claims to come from.
type SenderRole string

const (
	RoleOwner     SenderRole = "owner"
	RoleAdversary SenderRole = "adversary"
	RoleUnknown   SenderRole = "unknown"
)

// Risk tags a classification can carry.
const (
	TagDirectInjection   = "direct-injection"
	TagJailbreak         = "jailbreak"
	TagIndirectInjection = "indirect-injection"
	TagInfoLeakProbe     = "info-leak-probe"
	TagUnclassifiable    = "unclassifiable"
)

var knownTags = map[string]bool{
	TagDirectInjection:   true,
	TagJailbreak:         true,
	TagIndirectInjection: true,
	TagInfoLeakProbe:     true,
	TagUnclassifiable:    true,
}

func isKnownTag(tag string) bool { return knownTags[tag] }

// RawMessage is one unit of untrusted conversational input. Immutable once
// received; the classifier reads it and nothing else.
type RawMessage struct {
	SenderRole SenderRole `json:"sender_role"`
	OwnerID    string     `json:"owner_id"`
	Text       string     `json:"text"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Result is the classification of one RawMessage.
type Result struct {
	InputID       string   `json:"input_id"`
	RiskTags      []string `json:"risk_tags"`
	SanitizedText string   `json:"sanitized_text"`
	Matches       []Match  `json:"matches,omitempty"`
}

// Match records which pattern fired, for audit detail. Values are pattern
// names, never the matched text.
type Match struct {
	Pattern string  `json:"pattern"`
	Tag     string  `json:"tag"`
	Score   float64 `json:"score"`
}

// HasTag reports whether the result carries the given risk tag.
func (r *Result) HasTag(tag string) bool {
	for _, t := range r.RiskTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Scanner tags raw text with risk tags using the configured pattern registry.
type Scanner struct {
	patterns      []RiskPattern
	minScore      float64
	maxInputChars int
}

// ScannerOption configures a Scanner.
type ScannerOption func(*scannerConfig)

type scannerConfig struct {
	patternFile   string
	minScore      float64
	maxInputChars int
}

// WithMinScore overrides the default minimum confidence threshold for matches.
func WithMinScore(score float64) ScannerOption {
	return func(c *scannerConfig) { c.minScore = score }
}

// WithMaxInputChars overrides the default input length bound.
func WithMaxInputChars(n int) ScannerOption {
	return func(c *scannerConfig) { c.maxInputChars = n }
}

// WithPatternFile loads additional recognizers from an operator YAML file.
// If the file does not exist, it is silently skipped.
func WithPatternFile(path string) ScannerOption {
	return func(c *scannerConfig) { c.patternFile = path }
}

// NewScanner creates a risk scanner. Without options it uses the embedded
// defaults; an operator pattern file layers on top by recognizer name.
func NewScanner(opts ...ScannerOption) (*Scanner, error) {
	var cfg scannerConfig
	for _, o := range opts {
		o(&cfg)
	}

	defaults, err := DefaultRecognizers()
	if err != nil {
		return nil, fmt.Errorf("loading default recognizers: %w", err)
	}

	var overrides []*RecognizerConfig
	if cfg.patternFile != "" {
		rf, err := LoadRecognizerFile(cfg.patternFile)
		if err != nil {
			return nil, fmt.Errorf("loading pattern file: %w", err)
		}
		if rf != nil {
			overrides = toPtrSlice(rf.Recognizers)
		}
	}

	merged := MergeRecognizers(toPtrSlice(defaults), overrides)
	compiled, err := CompileRiskPatterns(merged)
	if err != nil {
		return nil, fmt.Errorf("compiling patterns: %w", err)
	}

	minScore := DefaultMinScore
	if cfg.minScore > 0 {
		minScore = cfg.minScore
	}
	maxChars := DefaultMaxInputChars
	if cfg.maxInputChars > 0 {
		maxChars = cfg.maxInputChars
	}

	return &Scanner{patterns: compiled, minScore: minScore, maxInputChars: maxChars}, nil
}

// MustNewScanner is like NewScanner but panics on error. Useful for
// zero-config startup where the embedded defaults are expected to always
// compile.
func MustNewScanner(opts ...ScannerOption) *Scanner {
	s, err := NewScanner(opts...)
	if err != nil {
		panic(fmt.Sprintf("classifier.NewScanner: %v", err))
	}
	return s
}

// Classify analyzes one raw message and returns its risk tags. It cannot
// fail: input that cannot be classified (empty, oversized) is tagged
// unclassifiable instead. The input id is a content hash, so replays of the
// same text classify to the same id — and no raw text needs to be retained
// to correlate audit records.
func (s *Scanner) Classify(ctx context.Context, msg RawMessage) *Result {
	_, span := tracer.Start(ctx, "classifier.classify")
	defer span.End()

	result := &Result{
		InputID:  InputID(msg.Text),
		RiskTags: []string{},
	}

	trimmed := strings.TrimSpace(msg.Text)
	if trimmed == "" || len(msg.Text) > s.maxInputChars {
		result.RiskTags = []string{TagUnclassifiable}
		span.SetAttributes(attribute.StringSlice("risk.tags", result.RiskTags))
		return result
	}

	tagSet := make(map[string]bool)
	for _, p := range s.patterns {
		if p.Score < s.minScore {
			continue
		}
		if p.Pattern.MatchString(msg.Text) {
			tagSet[p.Tag] = true
			result.Matches = append(result.Matches, Match{Pattern: p.Name, Tag: p.Tag, Score: p.Score})
		}
	}

	for tag := range tagSet {
		result.RiskTags = append(result.RiskTags, tag)
	}
	sort.Strings(result.RiskTags)
	result.SanitizedText = Sanitize(msg.Text)

	span.SetAttributes(
		attribute.StringSlice("risk.tags", result.RiskTags),
		attribute.Int("risk.match_count", len(result.Matches)),
	)

	return result
}

// InputID returns the de-identified reference for a piece of input text:
// a prefix of its SHA-256 hash. Deterministic, so audit records and harness
// results for the same text always correlate.
func InputID(text string) string {
	h := sha256.Sum256([]byte(text))
	return "in_" + hex.EncodeToString(h[:])[:12]
}
