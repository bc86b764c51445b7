package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// IsExecutable checks if a file mode has any executable bits set.
// It checks the executable bits for owner, group, and others (0111).
func IsExecutable(info fs.FileInfo) bool {
	permissions := info.Mode().Perm()
	return permissions&0111 != 0
}

// PathExists reports whether path exists. Errors other than "not exist" are returned.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// RemoveIfExists removes a single file, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
