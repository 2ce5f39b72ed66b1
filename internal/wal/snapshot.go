package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot persists the account_id -> balance table. It is a startup
// fast-path and a debugging artifact; the ledger stays the source of truth
// and recovery rewrites the snapshot from it.
type Snapshot struct {
	path string
}

func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

// Load reads the snapshot. A missing file yields an empty table.
func (s *Snapshot) Load() (map[string]float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	balances := map[string]float64{}
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	return balances, nil
}

// Write replaces the snapshot atomically: write to a temp file in the same
// directory, fsync it, rename over the target. Readers either see the old
// snapshot or the new one, never a partial write.
func (s *Snapshot) Write(balances map[string]float64) error {
	data, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
