package output

import (
	"fmt"
	"os"
	"path/filepath"

	"eqshard/pkg/eqshard/checkpoint"
	"eqshard/pkg/eqshard/cluster"

	"github.com/parquet-go/parquet-go"
)

// Accumulator buffers records for one (batch, worker) pair and merges them
// into the persisted output at flush boundaries.
//
// The output file is owned exclusively by this worker (the rank is part of
// the file name), so the read-existing, concat, rewrite merge needs no
// locking. The rewrite goes through a same-directory temp file and rename,
// and the checkpoint advances only after the rename succeeds. A crash
// between the two leaves the new output with the old offset; the resumed
// run redoes that cycle and the merge re-appends its rows, so the failure
// mode is duplicated rows in the output, never lost or skipped ones.
type Accumulator struct {
	path    string
	batchID string
	coords  cluster.Coordinates
	store   checkpoint.Store
	buf     []Record
}

// Path returns the per-(batch, worker) output file location.
func Path(dir, batchID string, coords cluster.Coordinates) string {
	return filepath.Join(dir, fmt.Sprintf("%s__rank%04d.parquet", batchID, coords.GlobalIndex))
}

// NewAccumulator creates an accumulator writing under dir.
func NewAccumulator(dir, batchID string, coords cluster.Coordinates, store checkpoint.Store) *Accumulator {
	return &Accumulator{
		path:    Path(dir, batchID, coords),
		batchID: batchID,
		coords:  coords,
		store:   store,
	}
}

// Add buffers one record.
func (a *Accumulator) Add(rec Record) {
	a.buf = append(a.buf, rec)
}

// Len returns the number of buffered records.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Flush merges the buffer into the output file and advances the checkpoint
// to offset completed flush-cycles. An empty buffer is a no-op: no file is
// created and the checkpoint does not move.
func (a *Accumulator) Flush(offset int) error {
	if len(a.buf) == 0 {
		return nil
	}

	merged := a.buf
	if existing, err := a.readExisting(); err != nil {
		return err
	} else if len(existing) > 0 {
		merged = append(existing, a.buf...)
	}

	if err := a.rewrite(merged); err != nil {
		return fmt.Errorf("write output %s: %w", a.path, err)
	}

	if err := a.store.Save(a.batchID, a.coords, checkpoint.State{
		ProgressOffset: offset,
		WorldSize:      a.coords.WorldSize,
	}); err != nil {
		return fmt.Errorf("advance checkpoint for %s: %w", a.batchID, err)
	}

	a.buf = a.buf[:0]
	return nil
}

// readExisting loads the current output file, if any.
func (a *Accumulator) readExisting() ([]Record, error) {
	if _, err := os.Stat(a.path); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat output %s: %w", a.path, err)
	}

	existing, err := parquet.ReadFile[Record](a.path)
	if err != nil {
		return nil, fmt.Errorf("read existing output %s: %w", a.path, err)
	}
	return existing, nil
}

// rewrite atomically replaces the output file with the merged rows.
// The temp file is synced before the rename so a power loss cannot
// surface a renamed-but-empty output.
func (a *Accumulator) rewrite(rows []Record) error {
	tmp := a.path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := syncFile(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
