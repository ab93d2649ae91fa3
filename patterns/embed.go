// Package patterns provides embedded default recognizer definitions.
// YAML files in this directory use a Presidio-compatible recognizer format;
// each recognizer carries the risk tag it contributes when one of its
// patterns matches.
package patterns

import _ "embed"

//go:embed risk_en.yaml
var riskENYAML []byte

// RiskENYAML returns the embedded default risk recognizer definitions.
func RiskENYAML() []byte { return riskENYAML }
