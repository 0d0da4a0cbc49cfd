// Package source enumerates and loads the input parquet batches.
//
// Batch order is load-bearing: checkpoints are keyed by batch identity and
// every worker must visit batches in the same sequence run-to-run, so the
// listing is sorted by file name. Row order within a batch is the sharding
// key and must be stable across re-loads; reordering input invalidates
// resumability.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ErrSourceUnavailable indicates the input directory cannot be accessed.
var ErrSourceUnavailable = errors.New("input source unavailable")

// MalformedBatchError indicates a file that cannot be parsed into rows.
type MalformedBatchError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *MalformedBatchError) Error() string {
	return fmt.Sprintf("malformed batch %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *MalformedBatchError) Unwrap() error {
	return e.Err
}

// Handle names one input batch without loading it.
type Handle struct {
	// Path is the absolute or source-relative file path.
	Path string

	// ID is the file stem; checkpoints and outputs are keyed by it.
	ID string
}

// Row is one input record. Column names follow the corpus layout.
type Row struct {
	PaperID    string `parquet:"paper_id,optional"`
	EquationID string `parquet:"equation_id,optional"`
	Content    string `parquet:"content_resolved,optional"`
	Selector   string `parquet:"LLM_prompt,optional"`
}

// Batch is an ordered, named collection of rows. Row index within the
// batch (after filtering) is the sharding key.
type Batch struct {
	ID   string
	Rows []Row
}

// Filter restricts a batch to rows whose selector value is allowed.
// The filter only applies when the column actually exists in the file;
// batches written before the selector was introduced pass through whole.
type Filter struct {
	Column string
	Allow  []string
}

// ListBatches returns the batches under dir, sorted by name.
func ListBatches(dir string) ([]Handle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var handles []Handle
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		handles = append(handles, Handle{
			Path: filepath.Join(dir, entry.Name()),
			ID:   strings.TrimSuffix(entry.Name(), ".parquet"),
		})
	}

	// ReadDir already sorts by name; keep the invariant explicit anyway.
	slices.SortFunc(handles, func(a, b Handle) int {
		return strings.Compare(a.ID, b.ID)
	})
	return handles, nil
}

// LoadBatch materializes one batch, applying the selector filter when its
// column is present.
func LoadBatch(h Handle, filter Filter) (*Batch, error) {
	rows, err := parquet.ReadFile[Row](h.Path)
	if err != nil {
		return nil, &MalformedBatchError{Path: h.Path, Err: err}
	}

	if filter.Column != "" {
		present, err := hasColumn(h.Path, filter.Column)
		if err != nil {
			return nil, &MalformedBatchError{Path: h.Path, Err: err}
		}
		if present {
			filtered := rows[:0]
			for _, row := range rows {
				if slices.Contains(filter.Allow, row.Selector) {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
		}
	}

	return &Batch{ID: h.ID, Rows: rows}, nil
}

// hasColumn reports whether the file schema contains a top-level column.
func hasColumn(path, name string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return false, err
	}

	for _, field := range pf.Schema().Fields() {
		if field.Name() == name {
			return true, nil
		}
	}
	return false, nil
}
