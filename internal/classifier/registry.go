package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/txsentry/txsentry/patterns"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig maps one family of adversarial phrasing to a risk tag.
type RecognizerConfig struct {
	Name     string          `yaml:"name" json:"name"`
	RiskTag  string          `yaml:"risk_tag" json:"risk_tag"`
	Enabled  *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// isEnabled returns true if the recognizer is enabled (defaults to true when nil).
func (r *RecognizerConfig) isEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// LoadRecognizerFile reads and parses a recognizer YAML file from disk.
// Returns nil (not an error) if the file does not exist, so callers can
// treat a missing override file as a no-op.
func LoadRecognizerFile(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file %s: %w", path, err)
	}
	return ParseRecognizerFile(data)
}

// DefaultRecognizers returns the built-in risk recognizers parsed from the
// embedded risk_en.yaml file. This is the first layer in the merge chain.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.RiskENYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded risk patterns: %w", err)
	}
	return rf.Recognizers, nil
}

// MergeRecognizers merges recognizer layers: embedded defaults first, then
// operator overrides. Later layers override earlier ones by matching on the
// recognizer Name field. New recognizers are appended.
func MergeRecognizers(layers ...[]*RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if rc == nil {
				continue
			}
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = *rc
			} else {
				index[rc.Name] = len(merged)
				merged = append(merged, *rc)
			}
		}
	}

	return merged
}

// toPtrSlice converts []RecognizerConfig to []*RecognizerConfig for MergeRecognizers.
func toPtrSlice(configs []RecognizerConfig) []*RecognizerConfig {
	ptrs := make([]*RecognizerConfig, len(configs))
	for i := range configs {
		ptrs[i] = &configs[i]
	}
	return ptrs
}

// RiskPattern is a compiled, ready-to-use risk detection pattern.
type RiskPattern struct {
	Name    string
	Tag     string
	Pattern *regexp.Regexp
	Score   float64
}

// CompileRiskPatterns converts recognizer configs into the compiled
// []RiskPattern slice used by the Scanner at runtime. Disabled recognizers
// are skipped. Each regex pattern in a recognizer produces one RiskPattern.
func CompileRiskPatterns(recognizers []RecognizerConfig) ([]RiskPattern, error) {
	var compiled []RiskPattern

	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		if !isKnownTag(rec.RiskTag) {
			return nil, fmt.Errorf("recognizer %q declares unknown risk_tag %q", rec.Name, rec.RiskTag)
		}
		for _, p := range rec.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			compiled = append(compiled, RiskPattern{
				Name:    rec.Name + "/" + p.Name,
				Tag:     rec.RiskTag,
				Pattern: re,
				Score:   p.Score,
			})
		}
	}

	return compiled, nil
}
