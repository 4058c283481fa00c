// Package zip builds in-memory zip archives for training dataset uploads.
package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
)

// Entry is one file in the archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive packs the entries into a zip and returns its bytes.
func Archive(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, errors.New("zip: no entries")
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, errors.New("zip: entry with empty name")
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
