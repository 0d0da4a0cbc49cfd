package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eqshard/pkg/eqshard/checkpoint"
	"eqshard/pkg/eqshard/cluster"
	"eqshard/pkg/eqshard/config"
	"eqshard/pkg/eqshard/engine"
	"eqshard/pkg/eqshard/llm"
	"eqshard/pkg/eqshard/output"
	"eqshard/pkg/eqshard/source"
)

// validOutput is a model reply with prose before the trailing JSON object,
// the shape a chatty model actually produces.
const validOutput = `Here is the analysis you asked for.
{
  "input": {"latex_raw": "a+b"},
  "analysis": {
    "math_keywords": ["addition"],
    "math_sentence": "The sum of a and b.",
    "katex": "a+b"
  },
  "equivalents": {
    "equiv_form_1": {"name_of_trafo": "commutativity", "assumptions": [], "latex": "b+a"},
    "equiv_form_2": {"name_of_trafo": "identity", "assumptions": [], "latex": "a+b+0"}
  }
}`

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	cfg := config.Default()
	cfg.SourceDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.FlushThreshold = 2
	return cfg
}

func writeSourceBatch(t *testing.T, dir, name string, n int) {
	t.Helper()
	rows := make([]source.Row, n)
	for i := range rows {
		rows[i] = source.Row{
			PaperID:    "paper",
			EquationID: string(rune('a' + i)),
			Content:    `x^2 \label{eq:one}`,
			Selector:   "LLM",
		}
	}
	require.NoError(t, parquet.WriteFile(filepath.Join(dir, name), rows))
}

func TestRun_ProcessesOwnShard(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 7)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 3}
	store := checkpoint.NewMemoryStore()
	client := llm.NewMockClient(validOutput)

	eng := engine.New(cfg, coords, client, store)
	require.NoError(t, eng.Run(context.Background()))

	// Worker 0 of 3 owns rows 0, 3, 6.
	recs, err := parquet.ReadFile[output.Record](output.Path(cfg.OutputDir, "part-000", coords))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{0, 3, 6}, []int64{recs[0].RowIndex, recs[1].RowIndex, recs[2].RowIndex})

	for _, rec := range recs {
		assert.True(t, rec.HasStructured())
		assert.Equal(t, "x^2", rec.LatexClean, "label stripped before prompting")
		assert.Equal(t, validOutput, rec.RawOutput)
	}

	// 3 assigned rows at threshold 2 is 2 flush-cycles.
	st, err := store.Load("part-000", coords)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ProgressOffset)
	assert.Equal(t, 3, st.WorldSize)

	assert.Len(t, client.Calls(), 3)
}

func TestRun_ResumeSkipsFlushedCycles(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 7)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 3}
	store := checkpoint.NewMemoryStore()

	// One completed flush-cycle of threshold 2: rows 0 and 3 already done.
	require.NoError(t, store.Save("part-000", coords, checkpoint.State{
		ProgressOffset: 1,
		WorldSize:      3,
	}))

	client := llm.NewMockClient(validOutput)
	eng := engine.New(cfg, coords, client, store)
	require.NoError(t, eng.Run(context.Background()))

	assert.Len(t, client.Calls(), 1, "only row 6 remains")

	recs, err := parquet.ReadFile[output.Record](output.Path(cfg.OutputDir, "part-000", coords))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(6), recs[0].RowIndex)
}

func TestRun_RefusesWorldSizeMismatch(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 7)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 4}
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save("part-000", coords, checkpoint.State{
		ProgressOffset: 1,
		WorldSize:      3,
	}))

	eng := engine.New(cfg, coords, llm.NewMockClient(validOutput), store)
	err := eng.Run(context.Background())
	assert.ErrorIs(t, err, checkpoint.ErrWorldSizeMismatch)
}

func TestRun_BackendExhaustionAbortsBatchOnly(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 4)
	writeSourceBatch(t, cfg.SourceDir, "part-001.parquet", 4)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	client := llm.NewMockClient("").WithError(&llm.ExhaustedError{
		Endpoint: "http://127.0.0.1:18080",
		Attempts: 60,
	})

	eng := engine.New(cfg, coords, client, checkpoint.NewMemoryStore())
	require.NoError(t, eng.Run(context.Background()), "exhaustion is contained, not fatal")

	// Both batches were attempted: one first-row failure each.
	assert.Len(t, client.Calls(), 2)

	// Nothing flushed for either batch.
	_, err := os.Stat(output.Path(cfg.OutputDir, "part-000", coords))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(output.Path(cfg.OutputDir, "part-001", coords))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_InvalidOutputKeepsRawRecord(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 1)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	client := llm.NewMockClient("the model rambled and produced no JSON")

	eng := engine.New(cfg, coords, client, checkpoint.NewMemoryStore())
	require.NoError(t, eng.Run(context.Background()))

	recs, err := parquet.ReadFile[output.Record](output.Path(cfg.OutputDir, "part-000", coords))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].HasStructured())
	assert.Equal(t, "the model rambled and produced no JSON", recs[0].RawOutput)
}

func TestRun_OverlongPromptIsSkipped(t *testing.T) {
	cfg := testSettings(t)
	cfg.CtxTokens = 1 // 4-char budget: every real prompt exceeds it
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 1)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	client := llm.NewMockClient(validOutput)

	eng := engine.New(cfg, coords, client, checkpoint.NewMemoryStore())
	require.NoError(t, eng.Run(context.Background()))

	assert.Empty(t, client.Calls(), "skipped rows never reach the backend")
	_, err := os.Stat(output.Path(cfg.OutputDir, "part-000", coords))
	assert.True(t, os.IsNotExist(err), "nothing to flush")
}

func TestRun_CompletionCheckpointWhenTailProducedNoRecords(t *testing.T) {
	// Every prompt exceeds the 4-char budget, so the batch finishes with
	// nothing to flush. The completion checkpoint must still land past the
	// last cycle, or a restart re-consumes the whole batch.
	cfg := testSettings(t)
	cfg.CtxTokens = 1
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 3)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	store := checkpoint.NewMemoryStore()
	client := llm.NewMockClient(validOutput)

	eng := engine.New(cfg, coords, client, store)
	require.NoError(t, eng.Run(context.Background()))

	// 3 assigned rows at threshold 2 is 2 cycles.
	st, err := store.Load("part-000", coords)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ProgressOffset)
	assert.Equal(t, 1, st.WorldSize)

	// A restart resumes to an empty assignment, even with a budget that
	// would now admit the prompts.
	cfg.CtxTokens = 1024
	again := engine.New(cfg, coords, client, store)
	require.NoError(t, again.Run(context.Background()))
	assert.Empty(t, client.Calls())
}

func TestRun_MalformedBatchIsSkipped(t *testing.T) {
	cfg := testSettings(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "part-000.parquet"), []byte("junk"), 0o644))
	writeSourceBatch(t, cfg.SourceDir, "part-001.parquet", 1)

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	client := llm.NewMockClient(validOutput)

	eng := engine.New(cfg, coords, client, checkpoint.NewMemoryStore())
	require.NoError(t, eng.Run(context.Background()))

	// The healthy batch still ran.
	recs, err := parquet.ReadFile[output.Record](output.Path(cfg.OutputDir, "part-001", coords))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := testSettings(t)
	writeSourceBatch(t, cfg.SourceDir, "part-000.parquet", 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := engine.New(cfg, cluster.Coordinates{GlobalIndex: 0, WorldSize: 1},
		llm.NewMockClient(validOutput), checkpoint.NewMemoryStore())
	assert.ErrorIs(t, eng.Run(ctx), context.Canceled)
}

func TestRun_SelectorFilterChangesShardIndexing(t *testing.T) {
	// Filtering happens before sharding: row indices are positions in the
	// filtered batch, so the selector column changes which worker owns what.
	cfg := testSettings(t)
	rows := []source.Row{
		{EquationID: "keep-0", Content: "a", Selector: "LLM"},
		{EquationID: "drop", Content: "b", Selector: "NONE"},
		{EquationID: "keep-1", Content: "c", Selector: "API"},
		{EquationID: "keep-2", Content: "d", Selector: "LLM"},
	}
	require.NoError(t, parquet.WriteFile(filepath.Join(cfg.SourceDir, "part-000.parquet"), rows))

	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 2}
	eng := engine.New(cfg, coords, llm.NewMockClient(validOutput), checkpoint.NewMemoryStore())
	require.NoError(t, eng.Run(context.Background()))

	recs, err := parquet.ReadFile[output.Record](output.Path(cfg.OutputDir, "part-000", coords))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "keep-0", recs[0].EquationID)
	assert.Equal(t, "keep-2", recs[1].EquationID)
}

func TestRunID_IsUniquePerEngine(t *testing.T) {
	cfg := testSettings(t)
	coords := cluster.Coordinates{GlobalIndex: 0, WorldSize: 1}
	store := checkpoint.NewMemoryStore()

	a := engine.New(cfg, coords, llm.NewMockClient(""), store)
	b := engine.New(cfg, coords, llm.NewMockClient(""), store)

	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}
