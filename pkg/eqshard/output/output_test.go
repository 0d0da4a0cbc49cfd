package output_test

import (
	"os"
	"testing"

	"eqshard/pkg/eqshard/checkpoint"
	"eqshard/pkg/eqshard/cluster"
	"eqshard/pkg/eqshard/output"
	"eqshard/pkg/eqshard/source"
	"eqshard/pkg/eqshard/validate"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var w0 = cluster.Coordinates{GlobalIndex: 0, WorldSize: 3}

func record(eq string, idx int64) output.Record {
	return output.Record{EquationID: eq, RowIndex: idx, RawOutput: "raw"}
}

func TestFlush_EmptyBufferIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore()
	acc := output.NewAccumulator(dir, "batch-000", w0, store)

	require.NoError(t, acc.Flush(1))

	_, err := os.Stat(output.Path(dir, "batch-000", w0))
	assert.True(t, os.IsNotExist(err), "no output file should exist")

	st, err := store.Load("batch-000", w0)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ProgressOffset, "checkpoint must not advance")
}

func TestFlush_WritesAndAdvancesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore()
	acc := output.NewAccumulator(dir, "batch-000", w0, store)

	acc.Add(record("eq-0", 0))
	acc.Add(record("eq-3", 3))
	require.NoError(t, acc.Flush(1))
	assert.Equal(t, 0, acc.Len(), "buffer cleared after flush")

	rows, err := parquet.ReadFile[output.Record](output.Path(dir, "batch-000", w0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].RowIndex)
	assert.Equal(t, int64(3), rows[1].RowIndex)

	st, err := store.Load("batch-000", w0)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ProgressOffset)
	assert.Equal(t, 3, st.WorldSize, "world size recorded for resume safety")
}

func TestFlush_MergesAcrossCycles(t *testing.T) {
	dir := t.TempDir()
	store := checkpoint.NewMemoryStore()
	acc := output.NewAccumulator(dir, "batch-000", w0, store)

	acc.Add(record("eq-0", 0))
	require.NoError(t, acc.Flush(1))

	acc.Add(record("eq-3", 3))
	acc.Add(record("eq-6", 6))
	require.NoError(t, acc.Flush(2))

	rows, err := parquet.ReadFile[output.Record](output.Path(dir, "batch-000", w0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{0, 3, 6}, []int64{rows[0].RowIndex, rows[1].RowIndex, rows[2].RowIndex})

	st, err := store.Load("batch-000", w0)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ProgressOffset)
}

func TestFlush_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	acc := output.NewAccumulator(dir, "batch-000", w0, checkpoint.NewMemoryStore())

	acc.Add(record("eq-0", 0))
	require.NoError(t, acc.Flush(1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "batch-000__rank0000.parquet", entries[0].Name())
}

func TestNewRecord_WithStructuredFields(t *testing.T) {
	row := source.Row{PaperID: "p1", EquationID: "e1", Content: `a+b \label{x}`}
	structured := &validate.StructuredOutput{
		Analysis: validate.Analysis{
			MathKeywords: []string{"sum"},
			MathSentence: "A sum.",
			Katex:        "a+b",
		},
		Equivalents: validate.Equivalents{
			EquivForm1: validate.EquivForm{NameOfTrafo: "commute", Assumptions: []string{}, Latex: "b+a"},
			EquivForm2: validate.EquivForm{NameOfTrafo: "identity", Assumptions: []string{}, Latex: "a+b"},
		},
	}
	structured.Raw = []byte(`{"ok":true}`)

	rec := output.NewRecord(row, 7, "a+b", "raw model text", structured)

	assert.Equal(t, "p1", rec.PaperID)
	assert.Equal(t, int64(7), rec.RowIndex)
	assert.Equal(t, `["sum"]`, rec.MathKeywords)
	assert.Equal(t, "A sum.", rec.MathSentence)
	assert.Contains(t, rec.EquivForm1, `"commute"`)
	assert.Equal(t, `{"ok":true}`, rec.OutputJSON)
	assert.True(t, rec.HasStructured())
}

func TestNewRecord_WithoutStructuredFields(t *testing.T) {
	rec := output.NewRecord(source.Row{PaperID: "p"}, 0, "x", "not json at all", nil)

	assert.Equal(t, "not json at all", rec.RawOutput)
	assert.Empty(t, rec.MathKeywords)
	assert.False(t, rec.HasStructured())
}
