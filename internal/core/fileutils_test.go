package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExecutable(t *testing.T) {
	tmpDir := t.TempDir()

	execPath := filepath.Join(tmpDir, "executable.sh")
	// #nosec G306 -- test file permissions are acceptable for temporary test files
	require.NoError(t, os.WriteFile(execPath, []byte("#!/bin/sh\necho test"), 0755))
	info, err := os.Stat(execPath)
	require.NoError(t, err)
	assert.True(t, IsExecutable(info))

	nonExecPath := filepath.Join(tmpDir, "non-executable.txt")
	// #nosec G306 -- test file permissions are acceptable for temporary test files
	require.NoError(t, os.WriteFile(nonExecPath, []byte("test content"), 0644))
	info, err = os.Stat(nonExecPath)
	require.NoError(t, err)
	assert.False(t, IsExecutable(info))
}

func TestPathExists(t *testing.T) {
	tmpDir := t.TempDir()

	exists, err := PathExists(tmpDir)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = PathExists(filepath.Join(tmpDir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemoveIfExists(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "file.zip")
	// #nosec G306 -- test file permissions are acceptable for temporary test files
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0644))

	require.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error
	assert.NoError(t, RemoveIfExists(path))
}
