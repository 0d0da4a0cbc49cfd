// Package shard deterministically partitions batch rows across workers.
//
// Worker g of W owns exactly the rows whose index satisfies i % W == g.
// Partitioning needs no communication: every worker derives its own row
// set from its coordinates alone, and the union over all ranks covers
// every row exactly once.
package shard

import (
	"iter"

	"eqshard/pkg/eqshard/cluster"
)

// Assigned returns the lazy ascending sequence of row indices in
// [0, totalRows) owned by the worker, skipping its first `skip` rows.
//
// skip is expressed in rows of THIS worker, not global rows: resuming after
// k completed flush-cycles of threshold n passes skip = k*n, and the
// sequence restarts at exactly the first row whose output was never
// persisted. Rows already flushed before a restart are never yielded again.
func Assigned(totalRows int, coords cluster.Coordinates, skip int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if totalRows <= 0 || skip < 0 {
			return
		}
		start := coords.GlobalIndex + skip*coords.WorldSize
		for i := start; i < totalRows; i += coords.WorldSize {
			if !yield(i) {
				return
			}
		}
	}
}

// Count returns the number of rows the worker owns in a batch of totalRows,
// ignoring any resume skip.
func Count(totalRows int, coords cluster.Coordinates) int {
	if totalRows <= coords.GlobalIndex {
		return 0
	}
	return (totalRows - coords.GlobalIndex + coords.WorldSize - 1) / coords.WorldSize
}

// Owner returns the rank owning global row i in a world of size w.
func Owner(i, w int) int {
	return i % w
}
