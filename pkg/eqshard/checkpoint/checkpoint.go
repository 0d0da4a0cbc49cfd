// Package checkpoint persists per-(batch, worker) progress offsets so a
// restarted worker resumes exactly where its last flush left off.
package checkpoint

import (
	"errors"
	"fmt"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// State is the persisted unit of resumability for one (batch, worker) pair.
type State struct {
	// Version of the checkpoint format.
	Version int `json:"version"`

	// ProgressOffset is the number of completed flush-cycles. It only ever
	// increases within a batch's processing lifetime.
	ProgressOffset int `json:"progress_offset"`

	// WorldSize records the worker count that wrote this state. The
	// sharding rule is only stable if the resuming run uses the same
	// world size, so a mismatch refuses to resume instead of silently
	// skipping or duplicating rows.
	WorldSize int `json:"world_size"`

	// UpdatedAt is the wall-clock time of the last save.
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrWorldSizeMismatch indicates a checkpoint written under a different
// worker count.
var ErrWorldSizeMismatch = errors.New("checkpoint world size mismatch")

// CheckWorldSize verifies the state is resumable under the given world
// size. Zero-valued states (fresh start, corrupt recovery) always pass.
func (s State) CheckWorldSize(world int) error {
	if s.WorldSize != 0 && s.WorldSize != world {
		return fmt.Errorf("%w: checkpoint written with %d workers, resuming with %d",
			ErrWorldSizeMismatch, s.WorldSize, world)
	}
	return nil
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("checkpoint store closed")
