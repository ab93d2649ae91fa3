package policy

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// limitsSchema is the JSON Schema for guard.policy.yaml. Every rule
// threshold is required: the engine refuses to start with a partial rule
// set rather than guessing defaults for hard limits.
const limitsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "guard.policy.yaml Configuration",
  "type": "object",
  "required": ["policy"],
  "additionalProperties": false,
  "properties": {
    "policy": {
      "type": "object",
      "required": ["version", "allowlist", "max_slippage_bps", "value_caps", "approval"],
      "additionalProperties": false,
      "properties": {
        "version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
        "allowlist": {
          "type": "array",
          "minItems": 1,
          "items": {"type": "string", "minLength": 1}
        },
        "max_slippage_bps": {"type": "integer", "minimum": 0, "maximum": 10000},
        "value_caps": {
          "type": "object",
          "required": ["per_tx", "window"],
          "additionalProperties": false,
          "properties": {
            "per_tx": {"type": "number", "exclusiveMinimum": 0},
            "window": {"type": "number", "exclusiveMinimum": 0},
            "window_duration": {"type": "string", "pattern": "^[0-9]+(ns|us|ms|s|m|h)$"}
          }
        },
        "approval": {
          "type": "object",
          "required": ["max_amount"],
          "additionalProperties": false,
          "properties": {
            "max_amount": {"type": "number", "exclusiveMinimum": 0}
          }
        },
        "evaluation_mode": {"type": "string", "enum": ["fail_fast", "fail_complete"]}
      }
    },
    "classifier": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_score": {"type": "number", "minimum": 0, "maximum": 1},
        "max_input_chars": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// ValidateLimitsSchema validates guard.policy.yaml content against the
// schema. The YAML is first converted to JSON because gojsonschema operates
// on JSON.
func ValidateLimitsSchema(yamlBytes []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML for schema validation: %w", err)
	}

	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(limitsSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonBytes)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for _, verr := range result.Errors() {
			errMsg += fmt.Sprintf("- %s\n", verr)
		}
		return fmt.Errorf("schema validation errors:\n%s", errMsg)
	}

	return nil
}

// normalizeYAML converts map[interface{}]interface{} (yaml.v3 edge cases) to
// map[string]interface{} so the structure marshals to JSON.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = normalizeYAML(item)
		}
		return m
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
