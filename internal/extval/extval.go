// Package extval is the boundary to the external schema validator. The
// runtime treats validation as opaque: it hands over a structured
// document and receives a structured result, which feeds the
// incremental/full consistency checks.
package extval

import (
	"context"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Issue is one schema violation found by the validator.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is the structured outcome of one validation run. Valid is false
// iff Errors is non-empty; all issues are reported, no fail-fast.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Issue `json:"errors,omitempty"`
}

// Validator validates a structured document against a fixed schema.
// A non-nil error is a fault in the validator itself, not a property of
// the document; document problems surface as Result issues.
type Validator interface {
	Validate(ctx context.Context, document any) (Result, error)
}

// CUEValidator validates documents against a CUE schema.
type CUEValidator struct {
	cctx   *cue.Context
	schema cue.Value
}

// NewCUEValidator compiles the schema source once, up front.
func NewCUEValidator(schemaSource string) (*CUEValidator, error) {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("extval: compile schema: %w", err)
	}
	return &CUEValidator{cctx: cctx, schema: schema}, nil
}

// Validate implements Validator by unifying the document with the schema
// and collecting every concrete validation error.
func (v *CUEValidator) Validate(ctx context.Context, document any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	value := v.cctx.Encode(document)
	if err := value.Err(); err != nil {
		return Result{}, fmt.Errorf("extval: encode document: %w", err)
	}

	unified := v.schema.Unify(value)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return Result{Valid: true}, nil
	}

	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		issues = append(issues, Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		})
	}
	return Result{Valid: false, Errors: issues}, nil
}
