// Package validate extracts and validates the structured JSON object a
// model emits at the end of its output.
//
// Validation failure is an expected outcome, never fatal: the caller keeps
// the row with the raw model text and simply omits the structured fields.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"eqshard/pkg/eqshard/prompt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoEmbeddedObject indicates no JSON-object-shaped substring exists at
// the end of the model output.
var ErrNoEmbeddedObject = errors.New("no JSON object found in model output")

// SchemaViolationError indicates a located object does not conform to the
// pure-math schema (or is not parseable JSON at all).
type SchemaViolationError struct {
	Err error
}

// Error implements the error interface.
func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("model output violates schema: %v", e.Err)
}

// Unwrap returns the underlying validation error.
func (e *SchemaViolationError) Unwrap() error {
	return e.Err
}

// StructuredOutput is the validated payload extracted from model output.
type StructuredOutput struct {
	Input       Input       `json:"input"`
	Analysis    Analysis    `json:"analysis"`
	Equivalents Equivalents `json:"equivalents"`

	// Raw is the exact object text that validated, preserved for the
	// output_json column.
	Raw json.RawMessage `json:"-"`
}

// Input echoes the expression the model was given.
type Input struct {
	LatexRaw string `json:"latex_raw"`
}

// Analysis holds the extracted mathematical metadata.
type Analysis struct {
	MathKeywords []string `json:"math_keywords"`
	MathSentence string   `json:"math_sentence"`
	Katex        string   `json:"katex"`
}

// EquivForm is one algebraically equivalent rewriting of the expression.
type EquivForm struct {
	NameOfTrafo string   `json:"name_of_trafo"`
	Assumptions []string `json:"assumptions"`
	Latex       string   `json:"latex"`
}

// Equivalents pairs the two requested rewritings.
type Equivalents struct {
	EquivForm1 EquivForm `json:"equiv_form_1"`
	EquivForm2 EquivForm `json:"equiv_form_2"`
}

// objectPattern locates the trailing JSON object: from the first opening
// brace to the last closing brace at (or near) the end of the text.
var objectPattern = regexp.MustCompile(`(?s)\{.*\}\s*$`)

// schema is compiled once; the schema text is a build-time constant so a
// compile failure is a programming error.
var schema = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource("pure_math.schema.json", strings.NewReader(prompt.SchemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("pure_math.schema.json")
}

// ParseStrict extracts the trailing JSON object from the model output and
// validates it against the pure-math schema.
func ParseStrict(text string) (*StructuredOutput, error) {
	loc := objectPattern.FindString(text)
	if loc == "" {
		return nil, ErrNoEmbeddedObject
	}
	raw := []byte(strings.TrimSpace(loc))

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &SchemaViolationError{Err: err}
	}
	if err := schema.Validate(v); err != nil {
		return nil, &SchemaViolationError{Err: err}
	}

	var out StructuredOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SchemaViolationError{Err: err}
	}
	out.Raw = raw
	return &out, nil
}
