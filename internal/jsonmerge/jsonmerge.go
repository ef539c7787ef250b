// Package jsonmerge patches a small, known set of keys onto an opaque JSON
// document on disk without re-serializing it from a fixed Go struct, so
// every unrelated field survives byte-for-byte. It combines an atomic
// write (temp file + rename) with tidwall/sjson's targeted field writer,
// which is exactly suited to this kind of partial-document edit.
package jsonmerge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"
)

// SetKeys reads the JSON object at path (treating a missing file as "{}"),
// sets each key in updates, and writes the result back atomically via a
// temp file + rename. Keys not present in updates, and any keys in the
// existing document that SetKeys doesn't know about, are left untouched.
func SetKeys(path string, updates map[string]any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("jsonmerge: read %s: %w", path, err)
		}
		raw = []byte("{}")
	}

	doc := string(raw)
	for key, value := range updates {
		doc, err = sjson.Set(doc, key, value)
		if err != nil {
			return fmt.Errorf("jsonmerge: set %s: %w", key, err)
		}
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("jsonmerge: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("jsonmerge: write temp: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("jsonmerge: rename: %w", err)
	}
	return nil
}
