package validate_test

import (
	"encoding/json"
	"testing"

	"eqshard/pkg/eqshard/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validObject builds a schema-conforming output object as a mutable map so
// tests can knock out individual keys.
func validObject() map[string]any {
	form := func(name string) map[string]any {
		return map[string]any{
			"name_of_trafo": name,
			"assumptions":   []any{},
			"latex":         "a+b",
		}
	}
	return map[string]any{
		"input": map[string]any{"latex_raw": "a+b"},
		"analysis": map[string]any{
			"math_keywords": []any{"addition", "sum"},
			"math_sentence": "The sum of a and b.",
			"katex":         "a+b",
		},
		"equivalents": map[string]any{
			"equiv_form_1": form("commute"),
			"equiv_form_2": form("identity"),
		},
	}
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestParseStrict_RoundTrip(t *testing.T) {
	text := "Sure, here is the analysis:\n" + marshal(t, validObject())

	out, err := validate.ParseStrict(text)
	require.NoError(t, err)

	assert.Equal(t, "a+b", out.Input.LatexRaw)
	assert.Equal(t, []string{"addition", "sum"}, out.Analysis.MathKeywords)
	assert.Equal(t, "The sum of a and b.", out.Analysis.MathSentence)
	assert.Equal(t, "commute", out.Equivalents.EquivForm1.NameOfTrafo)
	assert.Equal(t, "identity", out.Equivalents.EquivForm2.NameOfTrafo)
	assert.NotEmpty(t, out.Raw)
}

func TestParseStrict_TrailingWhitespaceTolerated(t *testing.T) {
	text := marshal(t, validObject()) + "\n\n  "

	_, err := validate.ParseStrict(text)
	require.NoError(t, err)
}

func TestParseStrict_NoObject(t *testing.T) {
	_, err := validate.ParseStrict("I could not analyze this expression.")
	assert.ErrorIs(t, err, validate.ErrNoEmbeddedObject)
}

func TestParseStrict_MissingRequiredKey(t *testing.T) {
	obj := validObject()
	delete(obj["analysis"].(map[string]any), "katex")

	_, err := validate.ParseStrict(marshal(t, obj))
	require.Error(t, err)

	var sv *validate.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}

func TestParseStrict_ExtraKeyForbidden(t *testing.T) {
	obj := validObject()
	obj["confidence"] = 0.9

	_, err := validate.ParseStrict(marshal(t, obj))

	var sv *validate.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}

func TestParseStrict_ExtraNestedKeyForbidden(t *testing.T) {
	obj := validObject()
	obj["analysis"].(map[string]any)["mood"] = "happy"

	_, err := validate.ParseStrict(marshal(t, obj))

	var sv *validate.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}

func TestParseStrict_MalformedJSON(t *testing.T) {
	_, err := validate.ParseStrict(`{"input": {"latex_raw": "a+b",}`)

	var sv *validate.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}

func TestParseStrict_TooManyKeywords(t *testing.T) {
	obj := validObject()
	kw := make([]any, 11)
	for i := range kw {
		kw[i] = "k"
	}
	obj["analysis"].(map[string]any)["math_keywords"] = kw

	_, err := validate.ParseStrict(marshal(t, obj))

	var sv *validate.SchemaViolationError
	assert.ErrorAs(t, err, &sv)
}
