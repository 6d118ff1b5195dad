package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirMode  os.FileMode = 0o700
	blobMode os.FileMode = 0o600
)

// readBlob returns the contents of path and whether it existed.
func readBlob(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read blob: %w", err)
	}
	return b, true, nil
}

// writeBlob stages b next to path and renames it into place, so readers see
// either the old blob or the new one.
func writeBlob(path string, b []byte) error {
	staged, err := stageBlob(path, b)
	if err != nil {
		return err
	}
	if err := os.Rename(staged, path); err != nil {
		_ = os.Remove(staged)
		return err
	}
	return nil
}

// stageBlob writes b to a synced temporary file in path's directory and
// returns its name. The caller renames or removes it.
func stageBlob(path string, b []byte) (staged string, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("create namespace dir: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("stage blob: %w", err)
	}
	staged = f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(staged)
		}
	}()

	if err := f.Chmod(blobMode); err != nil {
		_ = f.Close()
		return "", err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return staged, nil
}
