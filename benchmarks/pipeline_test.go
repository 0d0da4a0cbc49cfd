package benchmarks

import (
	"fmt"
	"strings"
	"testing"

	"eqshard/pkg/eqshard/cluster"
	"eqshard/pkg/eqshard/prompt"
	"eqshard/pkg/eqshard/shard"
	"eqshard/pkg/eqshard/validate"
)

// validOutput is a conforming model reply used across benchmarks.
const validOutput = `Analysis follows.
{
  "input": {"latex_raw": "a+b"},
  "analysis": {
    "math_keywords": ["addition", "commutativity"],
    "math_sentence": "The sum of a and b.",
    "katex": "a+b"
  },
  "equivalents": {
    "equiv_form_1": {"name_of_trafo": "commutativity", "assumptions": [], "latex": "b+a"},
    "equiv_form_2": {"name_of_trafo": "identity", "assumptions": [], "latex": "a+b+0"}
  }
}`

// BenchmarkAssigned_Iterate measures shard sequence iteration overhead.
func BenchmarkAssigned_Iterate(b *testing.B) {
	coords := cluster.Coordinates{GlobalIndex: 3, WorldSize: 64}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sum := 0
		for idx := range shard.Assigned(1_000_000, coords, 0) {
			sum += idx
		}
		_ = sum
	}
}

// BenchmarkBuild measures prompt construction for a typical expression.
func BenchmarkBuild(b *testing.B) {
	latex := `\int_0^\infty e^{-x^2}\,dx = \frac{\sqrt{\pi}}{2} \label{eq:gauss}`
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = prompt.Build(prompt.KatexHygiene(latex))
	}
}

// BenchmarkKatexHygiene_Long measures cleanup on a long expression.
func BenchmarkKatexHygiene_Long(b *testing.B) {
	latex := strings.Repeat(`x_{i} + \label{eq:n} `, 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = prompt.KatexHygiene(latex)
	}
}

// BenchmarkParseStrict_Valid measures extraction plus schema validation of
// a conforming model output.
func BenchmarkParseStrict_Valid(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := validate.ParseStrict(validOutput); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkParseStrict_NoObject measures the rejection path for prose-only
// output.
func BenchmarkParseStrict_NoObject(b *testing.B) {
	text := strings.Repeat("the model rambled on and on. ", 50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = validate.ParseStrict(text)
	}
}

// BenchmarkParseStrict_Violation measures the rejection path for an object
// with a disallowed extra key.
func BenchmarkParseStrict_Violation(b *testing.B) {
	text := fmt.Sprintf(`{"input": {"latex_raw": "a"}, "extra": %d}`, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = validate.ParseStrict(text)
	}
}
