// Package output buffers processed records and merges them into the
// per-(batch, worker) parquet file at flush boundaries.
package output

import (
	"encoding/json"

	"eqshard/pkg/eqshard/source"
	"eqshard/pkg/eqshard/validate"
)

// Record is one output row. The structured columns are empty when
// validation failed; the raw model output is always preserved so failed
// rows can be re-examined offline.
type Record struct {
	PaperID    string `parquet:"paper_id,optional"`
	EquationID string `parquet:"equation_id,optional"`
	LatexRaw   string `parquet:"latex_raw,optional"`
	LatexClean string `parquet:"latex_clean,optional"`
	RawOutput  string `parquet:"llm_raw_output,optional"`

	// RowIndex is the row's index within its (filtered) batch.
	RowIndex int64 `parquet:"global_row"`

	// Structured columns, present only when the validator succeeded.
	// Nested values are stored as compact JSON strings.
	MathKeywords string `parquet:"math_keywords,optional"`
	MathSentence string `parquet:"math_sentence,optional"`
	Katex        string `parquet:"katex,optional"`
	EquivForm1   string `parquet:"equiv_form_1,optional"`
	EquivForm2   string `parquet:"equiv_form_2,optional"`
	OutputJSON   string `parquet:"output_json,optional"`
}

// NewRecord derives an output record from an input row and the model's
// raw output. structured may be nil; the record then carries only the
// pass-through and raw columns.
func NewRecord(row source.Row, rowIndex int, latexClean, rawOutput string, structured *validate.StructuredOutput) Record {
	rec := Record{
		PaperID:    row.PaperID,
		EquationID: row.EquationID,
		LatexRaw:   row.Content,
		LatexClean: latexClean,
		RawOutput:  rawOutput,
		RowIndex:   int64(rowIndex),
	}

	if structured != nil {
		rec.MathKeywords = compactJSON(structured.Analysis.MathKeywords)
		rec.MathSentence = structured.Analysis.MathSentence
		rec.Katex = structured.Analysis.Katex
		rec.EquivForm1 = compactJSON(structured.Equivalents.EquivForm1)
		rec.EquivForm2 = compactJSON(structured.Equivalents.EquivForm2)
		rec.OutputJSON = string(structured.Raw)
	}
	return rec
}

// HasStructured reports whether the validator produced structured fields
// for this record.
func (r Record) HasStructured() bool {
	return r.OutputJSON != ""
}

// compactJSON renders v as a JSON string. The inputs here already
// round-tripped through the validator, so a marshal failure cannot happen.
func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
