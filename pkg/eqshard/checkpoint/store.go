package checkpoint

import "eqshard/pkg/eqshard/cluster"

// Store persists progress state for crash recovery.
// Implementations must be safe for concurrent use.
//
// Load never fails on absent or unreadable state: reprocessing a
// flush-cycle is recoverable (at worst it duplicates already-flushed rows
// in the output), while trusting a corrupt offset could silently skip
// unprocessed rows. Corrupt state therefore degrades to the zero State.
type Store interface {
	// Load retrieves the state for a (batch, worker) pair.
	// Returns the zero State when nothing valid is persisted.
	Load(batchID string, coords cluster.Coordinates) (State, error)

	// Save stores the state for a (batch, worker) pair, overwriting any
	// previous state.
	Save(batchID string, coords cluster.Coordinates, st State) error

	// Close releases any resources (connections, files).
	Close() error
}
