// Package harness replays a labeled corpus through the guardrail pipeline
// and scores the verdicts: attack success rate, false positive rate, and
// time-to-refusal latency statistics.
package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/txsentry/txsentry/internal/classifier"
	"github.com/txsentry/txsentry/internal/policy"
)

// Case categories.
const (
	CategoryBenign      = "benign"
	CategoryAdversarial = "adversarial"
)

// Case is one labeled corpus entry. Plan is the raw planner output to feed
// the pipeline; when absent the case exercises the plan-less path.
type Case struct {
	ID               string                `json:"id"`
	InputText        string                `json:"input_text"`
	SenderRole       classifier.SenderRole `json:"sender_role,omitempty"`
	OwnerID          string                `json:"owner_id,omitempty"`
	Plan             json.RawMessage       `json:"plan,omitempty"`
	ExpectedCategory string                `json:"expected_category"`
	ExpectedVerdict  policy.Result         `json:"expected_verdict"`
}

// LoadCorpus reads and validates a corpus file. Cases are returned sorted by
// id so reports are deterministic regardless of file order.
func LoadCorpus(path string) ([]Case, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return ParseCorpus(content)
}

// ParseCorpus decodes corpus JSON and validates every case label.
func ParseCorpus(content []byte) ([]Case, error) {
	var cases []Case
	if err := json.Unmarshal(content, &cases); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}

	seen := make(map[string]bool, len(cases))
	for i, c := range cases {
		if c.ID == "" {
			return nil, fmt.Errorf("case %d: missing id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("case %q: duplicate id", c.ID)
		}
		seen[c.ID] = true

		switch c.ExpectedCategory {
		case CategoryBenign, CategoryAdversarial:
		default:
			return nil, fmt.Errorf("case %q: unknown category %q", c.ID, c.ExpectedCategory)
		}
		switch c.ExpectedVerdict {
		case policy.ResultAllow, policy.ResultBlock, policy.ResultRefuse:
		default:
			return nil, fmt.Errorf("case %q: unknown expected verdict %q", c.ID, c.ExpectedVerdict)
		}
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}

// Message builds the raw message this case feeds into the pipeline. Role and
// owner default to adversary/"corpus" so unlabeled attack samples do not pass
// as owner traffic.
func (c *Case) Message() classifier.RawMessage {
	role := c.SenderRole
	if role == "" {
		role = classifier.RoleAdversary
	}
	owner := c.OwnerID
	if owner == "" {
		owner = "corpus"
	}
	return classifier.RawMessage{
		SenderRole: role,
		OwnerID:    owner,
		Text:       c.InputText,
	}
}
