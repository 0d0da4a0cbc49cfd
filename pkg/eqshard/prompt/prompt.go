// Package prompt builds the pure-math extraction prompt sent to the model
// and holds the JSON schema the model output must satisfy.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// template instructs the model to emit a single strict-JSON object for one
// LaTeX expression. The schema is inlined so weaker models see the exact
// shape they must produce.
const template = `You are a Bourbaki-style pure mathematician: formal and entirely abstract. Analyze one LaTeX expression and return strict JSON that satisfies the schema. No text outside JSON.

INPUT
- latex_raw: the raw LaTeX string of a single expression

TASKS (pure math; no domain flavor)
1) math_keywords — ≤10 mathematical keywords, most→least important.
2) math_sentence — Single natural-language sentence description
3) katex — KaTeX representation (fix punctuation/braces; do NOT wrap in $...$ or \[...\]).
4) equiv_form_1 — Algebraically equivalent form with "name_of_trafo" and "assumptions".
5) equiv_form_2 — A different algebraically equivalent form with its own "name_of_trafo" and "assumptions".

OUTPUT RULES
- Output MUST be a single JSON object and nothing else.
- All keys/strings use double quotes.
- Escape backslashes in JSON strings (e.g., "\\frac").
- Keep LaTeX inside strings; do not add $...$ or \[...\].

JSON SCHEMA (informative, do not echo)
%s

Return only the JSON object.

LaTeX expression (raw):
%s`

// labelPattern strips LaTeX \label{...} tags, which carry no mathematical
// content and confuse keyword extraction.
var labelPattern = regexp.MustCompile(`\\label\{[^}]*\}`)

// KatexHygiene applies the minimal cleanup performed before prompting:
// remove \label tags, trim whitespace, drop a trailing comma.
func KatexHygiene(s string) string {
	s = labelPattern.ReplaceAllString(s, "")
	return strings.TrimRight(strings.TrimSpace(s), ",")
}

// Build fills the extraction template with the cleaned expression.
func Build(latexRaw string) string {
	return fmt.Sprintf(template, SchemaJSON, latexRaw)
}
