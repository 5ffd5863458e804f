package store

import (
	"encoding/json"
	"os"
)

// WriteJSONAtomic marshals v and replaces the file at path without ever
// exposing a partial document: the bytes go to a sibling temp file which is
// fsynced and then renamed over the target. A crash at any point leaves
// either the old complete content or the new complete content on disk.
//
// Exported because the desktop bridge persists its legacy-layout documents
// with the same discipline.
func WriteJSONAtomic(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadJSONFile decodes the JSON document at path into v. The raw
// os.ErrNotExist passes through so callers can map absence to empty.
func ReadJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
