package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StatePath returns the health-state file for one group.
func StatePath(dataDir, group string) string {
	return filepath.Join(dataDir, "state_"+group+".json")
}

// LoadState reads a persisted health map. A missing file yields an empty
// map; a corrupt file yields an empty map plus the parse error so the
// caller can log it and start fresh rather than die.
func LoadState(path string) (map[string]TargetHealth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]TargetHealth{}, nil
		}
		return map[string]TargetHealth{}, err
	}
	state := map[string]TargetHealth{}
	if err := json.Unmarshal(data, &state); err != nil {
		return map[string]TargetHealth{}, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return state, nil
}

// SaveState writes the health map through a temp file and rename so a
// crash mid-write never leaves a truncated state file behind.
func SaveState(path string, state map[string]TargetHealth) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
