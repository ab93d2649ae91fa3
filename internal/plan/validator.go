package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	txotel "github.com/txsentry/txsentry/internal/otel"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/plan")

// draftSchema is the JSON Schema for planner output. Validation here is
// purely structural: field presence, numeric ranges, enum membership.
// Business rules (allowlists, caps) belong to the policy engine.
// additionalProperties stays true on purpose — the planner may emit extra
// fields (reasoning, self-assertions) and they must be tolerated without
// ever being read.
const draftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Transaction Plan Draft",
  "type": "object",
  "required": ["action", "from_token", "to_token", "amount", "recipient", "slippage_bps"],
  "additionalProperties": true,
  "properties": {
    "action": {"type": "string", "enum": ["swap", "approve", "transfer"]},
    "from_token": {"type": "string", "pattern": "^[A-Z0-9]{2,10}$"},
    "to_token": {"type": "string", "pattern": "^[A-Z0-9]{2,10}$"},
    "amount": {"type": "number", "minimum": 0},
    "recipient": {"type": "string", "minLength": 1, "maxLength": 128},
    "slippage_bps": {"type": "integer", "minimum": 0, "maximum": 10000},
    "unlimited_approval": {"type": "boolean"},
    "estimated_fee_network": {"type": "number", "minimum": 0},
    "source_market_data_ref": {"type": "string"}
  }
}`

// Validator turns opaque planner output into a TxPlanDraft or a SchemaError.
// Stateless after construction; Validate is idempotent.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the draft schema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(draftSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling plan schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustNewValidator is like NewValidator but panics on error. The schema is a
// compile-time constant, so failure here is a programming error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(fmt.Sprintf("plan.NewValidator: %v", err))
	}
	return v
}

// Validate checks raw planner output against the draft schema and decodes it.
// On failure it returns a SchemaError naming the first offending field.
func (v *Validator) Validate(ctx context.Context, raw []byte) (*TxPlanDraft, error) {
	_, span := tracer.Start(ctx, "plan.validate")
	defer span.End()

	if len(raw) == 0 {
		span.SetAttributes(attribute.Bool("plan.valid", false))
		return nil, &SchemaError{Field: "(root)", Reason: "planner output is empty"}
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// Not valid JSON at all.
		span.SetAttributes(attribute.Bool("plan.valid", false))
		return nil, &SchemaError{Field: "(root)", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	if !result.Valid() {
		first := result.Errors()[0]
		span.SetAttributes(
			attribute.Bool("plan.valid", false),
			attribute.String("plan.invalid_field", first.Field()),
		)
		return nil, &SchemaError{Field: first.Field(), Reason: first.Description()}
	}

	var draft TxPlanDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		span.SetAttributes(attribute.Bool("plan.valid", false))
		return nil, &SchemaError{Field: "(root)", Reason: fmt.Sprintf("decoding plan: %v", err)}
	}

	span.SetAttributes(
		attribute.Bool("plan.valid", true),
		attribute.String("plan.action", string(draft.Action)),
	)
	return &draft, nil
}
