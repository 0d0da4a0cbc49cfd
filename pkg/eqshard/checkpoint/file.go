package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"eqshard/pkg/eqshard/cluster"
)

// FileStore persists one JSON document per (batch, worker) pair.
//
// Writes are atomic (same-directory temp file + rename) so a crash mid-save
// leaves either the previous state or the new one, never a torn file. A
// torn file from outside interference still only costs a reprocessed
// flush-cycle, because Load degrades to the zero State.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a file-backed store rooted at dir.
// The directory must already exist (worker 0 creates it at the barrier).
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// path places each pair in its own file, partitioned by rank so no two
// workers ever write the same path.
func (s *FileStore) path(batchID string, coords cluster.Coordinates) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s__rank%04d.ckpt.json", batchID, coords.GlobalIndex))
}

// Load implements Store.
func (s *FileStore) Load(batchID string, coords cluster.Coordinates) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(batchID, coords))
	if err != nil {
		// Absent or unreadable: start from offset 0.
		return State{}, nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil || st.ProgressOffset < 0 {
		// Corrupt: reprocessing is safer than skipping.
		return State{}, nil
	}
	return st, nil
}

// Save implements Store.
func (s *FileStore) Save(batchID string, coords cluster.Coordinates, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	st.Version = Version
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dest := s.path(batchID, coords)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
