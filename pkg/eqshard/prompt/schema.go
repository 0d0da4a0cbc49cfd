package prompt

// SchemaJSON is the Draft-7 schema ("Pure Math Only v1") every structured
// model output must satisfy. Extra keys are forbidden at every object level
// so drifting model output degrades loudly instead of silently.
const SchemaJSON = `{
  "type": "object",
  "required": ["input", "analysis", "equivalents"],
  "additionalProperties": false,
  "properties": {
    "input": {
      "type": "object",
      "required": ["latex_raw"],
      "additionalProperties": false,
      "properties": {
        "latex_raw": {"type": "string", "minLength": 1}
      }
    },
    "analysis": {
      "type": "object",
      "required": ["math_keywords", "math_sentence", "katex"],
      "additionalProperties": false,
      "properties": {
        "math_keywords": {
          "type": "array",
          "items": {"type": "string"},
          "maxItems": 10
        },
        "math_sentence": {"type": "string", "minLength": 1},
        "katex": {"type": "string", "minLength": 1}
      }
    },
    "equivalents": {
      "type": "object",
      "required": ["equiv_form_1", "equiv_form_2"],
      "additionalProperties": false,
      "properties": {
        "equiv_form_1": {"$ref": "#/definitions/equivForm"},
        "equiv_form_2": {"$ref": "#/definitions/equivForm"}
      }
    }
  },
  "definitions": {
    "equivForm": {
      "type": "object",
      "required": ["name_of_trafo", "assumptions", "latex"],
      "additionalProperties": false,
      "properties": {
        "name_of_trafo": {"type": "string", "minLength": 1},
        "assumptions": {"type": "array", "items": {"type": "string"}},
        "latex": {"type": "string", "minLength": 1}
      }
    }
  }
}`
