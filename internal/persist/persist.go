// Package persist provides durable file writes and deterministic JSON
// encoding for run artifacts. Checkpoints, hash sidecars, cache entries, and
// reports all go through WriteFileAtomic so a crash never leaves a partially
// written file under its final name.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirPerm is the permission for run artifact directories.
const DirPerm = 0o750

// FilePerm is the permission for run artifact files.
const FilePerm = 0o600

// stableIndent is the indentation for operator-readable JSON artifacts.
const stableIndent = "  "

// MarshalCanonical encodes v as compact JSON with no incidental whitespace.
// Map keys are emitted in sorted order by encoding/json, struct fields in
// declaration order, so equal values always produce identical bytes. Used
// for content hashing and cache keys.
func MarshalCanonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}

	return data, nil
}

// MarshalStable encodes v as 2-space-indented JSON with the same key
// ordering guarantees as MarshalCanonical. Used for files operators read.
func MarshalStable(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", stableIndent)
	if err != nil {
		return nil, fmt.Errorf("stable encode: %w", err)
	}

	return data, nil
}

// WriteFileAtomic writes data to path durably: temp file in the target
// directory, write, fsync, close, rename. On any failure the temp file is
// removed and the error propagates; the destination is either absent,
// intact, or fully replaced, never truncated.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	writeErr := writeAndSync(tmp, data)
	if writeErr != nil {
		removeErr := os.Remove(tmpPath)

		return errors.Join(writeErr, removeErr)
	}

	chmodErr := os.Chmod(tmpPath, perm)
	if chmodErr != nil {
		removeErr := os.Remove(tmpPath)

		return errors.Join(fmt.Errorf("chmod temp file: %w", chmodErr), removeErr)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		removeErr := os.Remove(tmpPath)

		return errors.Join(fmt.Errorf("rename into place: %w", renameErr), removeErr)
	}

	return nil
}

// writeAndSync writes data and fsyncs before closing. The file is closed in
// every path.
func writeAndSync(f *os.File, data []byte) error {
	_, writeErr := f.Write(data)
	if writeErr != nil {
		closeErr := f.Close()

		return errors.Join(fmt.Errorf("write temp file: %w", writeErr), closeErr)
	}

	syncErr := f.Sync()
	if syncErr != nil {
		closeErr := f.Close()

		return errors.Join(fmt.Errorf("fsync temp file: %w", syncErr), closeErr)
	}

	closeErr := f.Close()
	if closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	return nil
}
