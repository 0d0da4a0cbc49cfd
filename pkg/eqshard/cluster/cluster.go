// Package cluster resolves a worker's position in the parallel launch and
// provides the single startup synchronization point the pipeline needs.
package cluster

import (
	"fmt"
	"os"
	"strconv"
)

// Coordinates locates one worker inside the full launch.
// Resolved once at process start and treated as immutable afterwards;
// every component that needs a rank receives it explicitly.
type Coordinates struct {
	// GlobalIndex is this worker's rank in [0, WorldSize).
	GlobalIndex int

	// WorldSize is the total number of workers in the launch.
	WorldSize int

	// LocalSlot is the rank within this machine's group of workers.
	// It selects the node-local inference server port.
	LocalSlot int
}

// String renders coordinates the way they appear in log lines.
func (c Coordinates) String() string {
	return fmt.Sprintf("%d/%d (local %d)", c.GlobalIndex, c.WorldSize, c.LocalSlot)
}

// Validate checks the rank invariant.
func (c Coordinates) Validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("world size %d < 1", c.WorldSize)
	}
	if c.GlobalIndex < 0 || c.GlobalIndex >= c.WorldSize {
		return fmt.Errorf("global index %d outside [0, %d)", c.GlobalIndex, c.WorldSize)
	}
	if c.LocalSlot < 0 {
		return fmt.Errorf("local slot %d < 0", c.LocalSlot)
	}
	return nil
}

// envFamily is one launcher's set of rank variables.
type envFamily struct {
	rank  string
	world string
	local string
}

// Variable families for the launchers we run under, most specific first.
// The EQSHARD family exists for single-machine runs and tests.
var families = []envFamily{
	{rank: "EQSHARD_RANK", world: "EQSHARD_WORLD_SIZE", local: "EQSHARD_LOCAL_RANK"},
	{rank: "PMI_RANK", world: "PMI_SIZE", local: "MPI_LOCALRANKID"},
	{rank: "OMPI_COMM_WORLD_RANK", world: "OMPI_COMM_WORLD_SIZE", local: "OMPI_COMM_WORLD_LOCAL_RANK"},
	{rank: "SLURM_PROCID", world: "SLURM_NTASKS", local: "SLURM_LOCALID"},
}

// Resolve derives worker coordinates from the ambient launch environment.
// It fails when no known launcher variables are present: without a rank the
// process cannot know its shard, so startup must abort.
func Resolve() (Coordinates, error) {
	for _, fam := range families {
		rankStr, ok := os.LookupEnv(fam.rank)
		if !ok {
			continue
		}
		worldStr, ok := os.LookupEnv(fam.world)
		if !ok {
			return Coordinates{}, fmt.Errorf("%s is set but %s is not", fam.rank, fam.world)
		}

		rank, err := strconv.Atoi(rankStr)
		if err != nil {
			return Coordinates{}, fmt.Errorf("parse %s=%q: %w", fam.rank, rankStr, err)
		}
		world, err := strconv.Atoi(worldStr)
		if err != nil {
			return Coordinates{}, fmt.Errorf("parse %s=%q: %w", fam.world, worldStr, err)
		}

		// Local slot defaults to the global rank when the launcher does not
		// export one (single-node launches).
		local := rank
		if localStr, ok := os.LookupEnv(fam.local); ok {
			local, err = strconv.Atoi(localStr)
			if err != nil {
				return Coordinates{}, fmt.Errorf("parse %s=%q: %w", fam.local, localStr, err)
			}
		}

		coords := Coordinates{GlobalIndex: rank, WorldSize: world, LocalSlot: local}
		if err := coords.Validate(); err != nil {
			return Coordinates{}, fmt.Errorf("launch environment %s: %w", fam.rank, err)
		}
		return coords, nil
	}

	return Coordinates{}, fmt.Errorf("no parallel launch environment found (tried %s, %s, %s, %s)",
		families[0].rank, families[1].rank, families[2].rank, families[3].rank)
}

// Hostname returns the machine name for log enrichment.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
