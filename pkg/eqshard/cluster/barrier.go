package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// sentinelName marks the output tree as initialized by worker 0.
const sentinelName = ".eqshard-ready"

// pollInterval is how often non-zero workers re-check the sentinel.
const pollInterval = 250 * time.Millisecond

// Barrier is the single cross-worker synchronization point of a run.
//
// Worker 0 runs init (typically output directory creation) and then
// publishes a sentinel file; every other worker blocks until the sentinel
// appears. This removes the directory-creation race without any further
// coordination: after the barrier, workers touch only rank-partitioned
// files.
func Barrier(ctx context.Context, dir string, coords Coordinates, init func() error) error {
	sentinel := filepath.Join(dir, sentinelName)

	if coords.GlobalIndex == 0 {
		if init != nil {
			if err := init(); err != nil {
				return fmt.Errorf("barrier init on worker 0: %w", err)
			}
		}
		if err := os.WriteFile(sentinel, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
			return fmt.Errorf("publish barrier sentinel: %w", err)
		}
		return nil
	}

	for {
		if _, err := os.Stat(sentinel); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("check barrier sentinel: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for worker 0 at barrier: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
