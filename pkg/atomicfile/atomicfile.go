// Package atomicfile provides the durability fence spec.md §5 requires
// before any step that moves refs: write the new bytes to a temp file,
// fsync the temp file, rename it over the destination, then fsync the
// parent directory. The same sequence protects merge-state.json,
// commit-state.json, and destroy records.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteJSON marshals v and durably writes it to path using the
// write -> fsync(file) -> rename -> fsync(dir) fence.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicfile: marshal %s: %w", path, err)
	}
	return Write(path, data)
}

// Write durably writes data to path using the same fence as WriteJSON,
// for callers that already have serialized bytes (WriteJSON calls it
// after marshaling).
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: rename %s -> %s: %w", tmpPath, path, err)
	}

	return fsyncDir(dir)
}

// Remove deletes path (if present) and fsyncs its parent directory, so
// the deletion itself survives a crash — used to release merge-state.json
// at the end of a terminal phase.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("atomicfile: remove %s: %w", path, err)
	}
	return fsyncDir(filepath.Dir(path))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("atomicfile: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync dir %s: %w", dir, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the file at path into v. Returns
// os.ErrNotExist (test with os.IsNotExist) if the file is absent, so
// callers can distinguish "no phase in progress" from "corrupt state".
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("atomicfile: %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path can be stat'ed. It does not check that
// path is a regular file (a directory also counts) or that it is
// readable.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
