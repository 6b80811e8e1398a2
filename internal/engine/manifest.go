package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// manifestFile sits next to the collection's WAL and records the full
// CollectionConfig, so a restarted daemon can reopen the collection without
// the client re-creating it.
const manifestFile = "collection.json"

func saveManifest(dir string, cfg CollectionConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encoding: %w", err)
	}
	path := filepath.Join(dir, manifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("manifest: writing: %w", err)
	}
	// Rename is atomic on POSIX, so a crash mid-write never leaves a
	// half-written manifest behind.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("manifest: committing: %w", err)
	}
	return nil
}

func loadManifest(dir string) (CollectionConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return CollectionConfig{}, err
	}
	var cfg CollectionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CollectionConfig{}, fmt.Errorf("manifest: decoding: %w", err)
	}
	return cfg, nil
}
