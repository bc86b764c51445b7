package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(filepath.Join(root, "state"), filepath.Join(root, "cache"))
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	// #nosec G301 -- test directory permissions are acceptable for temporary test files
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	// #nosec G306 -- test file permissions are acceptable for temporary test files
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	// #nosec G304 -- test reads its own temp file
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var contents map[string]any
	require.NoError(t, json.Unmarshal(data, &contents))
	return contents
}

func boolPtr(b bool) *bool {
	return &b
}

func TestReadInstallRecord_Missing(t *testing.T) {
	store := newTestStore(t)
	assert.Equal(t, InstallRecord{}, store.ReadInstallRecord())
}

func TestReadInstallRecord_InvalidJSON(t *testing.T) {
	store := newTestStore(t)
	writeRaw(t, store.CliStatePath(), "{not json")
	assert.Equal(t, InstallRecord{}, store.ReadInstallRecord())
}

func TestReadInstallRecord_NonObject(t *testing.T) {
	store := newTestStore(t)
	writeRaw(t, store.CliStatePath(), "null")
	assert.Equal(t, InstallRecord{}, store.ReadInstallRecord())
}

func TestReadInstallRecord_KeySpellings(t *testing.T) {
	store := newTestStore(t)

	writeRaw(t, store.CliStatePath(), `{"version":"13.6.0","install_directory":"/opt/cypress"}`)
	assert.Equal(t, InstallRecord{Version: "13.6.0", InstallDirectory: "/opt/cypress"}, store.ReadInstallRecord())

	writeRaw(t, store.CliStatePath(), `{"version":"13.6.0","installDirectory":"/opt/camel"}`)
	assert.Equal(t, "/opt/camel", store.ReadInstallRecord().InstallDirectory)
}

func TestWriteInstallRecord(t *testing.T) {
	store := newTestStore(t)
	writeRaw(t, store.CliStatePath(), `{"installDirectory":"/old","extra":"kept"}`)

	require.NoError(t, store.WriteInstallRecord(InstallRecord{Version: "13.6.0", InstallDirectory: "/new"}))

	contents := readRaw(t, store.CliStatePath())
	assert.Equal(t, "13.6.0", contents["version"])
	assert.Equal(t, "/new", contents["install_directory"])
	assert.Equal(t, "kept", contents["extra"])
	assert.NotContains(t, contents, "installDirectory")

	// #nosec G304 -- test reads its own temp file
	data, err := os.ReadFile(store.CliStatePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"version\": \"13.6.0\"")
}

func TestWriteInstallRecord_CreatesParents(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.WriteInstallRecord(InstallRecord{Version: "1.0.0", InstallDirectory: "/x"}))
	assert.FileExists(t, store.CliStatePath())
}

func TestClearInstallRecord(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.ClearInstallRecord())

	require.NoError(t, store.WriteInstallRecord(InstallRecord{Version: "1.0.0", InstallDirectory: "/x"}))
	require.NoError(t, store.ClearInstallRecord())
	assert.NoFileExists(t, store.CliStatePath())
	assert.Equal(t, InstallRecord{}, store.ReadInstallRecord())
}

func TestInstallRecord_Status(t *testing.T) {
	tests := []struct {
		name   string
		record InstallRecord
		target string
		want   InstallStatus
	}{
		{"empty record", InstallRecord{}, "13.6.0", InstallAbsent},
		{"empty record and target", InstallRecord{}, "", InstallAbsent},
		{"same version", InstallRecord{Version: "13.6.0"}, "13.6.0", InstallCurrent},
		{"different version", InstallRecord{Version: "13.5.0"}, "13.6.0", InstallMismatch},
		{"any version", InstallRecord{Version: "13.5.0"}, "", InstallCurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Status(tt.target))
		})
	}
	assert.Equal(t, "mismatch", InstallMismatch.String())
}

func TestVersionAndBinaryDirectory(t *testing.T) {
	store := newTestStore(t)

	assert.Equal(t, filepath.Join(store.CacheDirectory(), "13.6.0"), store.VersionDirectory("13.6.0"))
	assert.Equal(t, filepath.Join(store.CacheDirectory(), LatestDirName), store.VersionDirectory(""))

	assert.Equal(t, store.VersionDirectory("13.6.0"), store.BinaryDirectory("13.6.0"))

	require.NoError(t, store.WriteInstallRecord(InstallRecord{Version: "local", InstallDirectory: "/somewhere"}))
	assert.Equal(t, "/somewhere", store.BinaryDirectory("13.6.0"))
}

func TestBinaryState(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, HasBinaryState(dir))
	assert.Equal(t, VerifyUnknown, ReadBinaryState(dir).Status())

	require.NoError(t, WriteVerified(dir, nil))
	assert.True(t, HasBinaryState(dir))
	assert.Equal(t, VerifyUnknown, ReadBinaryState(dir).Status())
	contents := readRaw(t, BinaryStatePath(dir))
	assert.Contains(t, contents, "verified")
	assert.Nil(t, contents["verified"])

	require.NoError(t, WriteVerified(dir, boolPtr(false)))
	assert.Equal(t, VerifyFailed, ReadBinaryState(dir).Status())

	require.NoError(t, WriteVerified(dir, boolPtr(true)))
	assert.Equal(t, VerifyVerified, ReadBinaryState(dir).Status())
	assert.Equal(t, "verified", VerifyVerified.String())
}

func TestReadBinaryState_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, BinaryStatePath(dir), "verified: yes")
	assert.Equal(t, BinaryState{}, ReadBinaryState(dir))
}

func TestClearBinaryDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "13.6.0")
	require.NoError(t, WriteVerified(dir, boolPtr(true)))

	require.NoError(t, ClearBinaryDirectory(dir))
	assert.NoDirExists(t, dir)
}

func TestCheckVersionLabel(t *testing.T) {
	for _, version := range []string{"", "13.6.0", "13.6.0-beta.1", "latest"} {
		assert.NoError(t, CheckVersionLabel(version), version)
	}
	for _, version := range []string{".", "..", "../victim", "13.6.0/../..", "a/b", `a\b`, "/abs"} {
		assert.Error(t, CheckVersionLabel(version), version)
	}
}

func TestCanonicalVersion(t *testing.T) {
	assert.Equal(t, "v13.6.0", CanonicalVersion("13.6.0"))
	assert.Equal(t, "v13.6.0", CanonicalVersion("v13.6.0"))
	assert.Empty(t, CanonicalVersion("latest"))
	assert.Empty(t, CanonicalVersion(""))
}

func TestListCachedVersions(t *testing.T) {
	store := newTestStore(t)

	versions, err := store.ListCachedVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)

	for _, name := range []string{"9.7.0", "13.6.0", "latest", "13.10.1"} {
		// #nosec G301 -- test directory permissions are acceptable for temporary test files
		require.NoError(t, os.MkdirAll(store.VersionDirectory(name), 0755))
	}
	writeRaw(t, filepath.Join(store.CacheDirectory(), "stray.zip"), "")
	require.NoError(t, WriteVerified(store.VersionDirectory("13.6.0"), boolPtr(true)))

	versions, err = store.ListCachedVersions()
	require.NoError(t, err)

	names := make([]string, len(versions))
	for i, v := range versions {
		names[i] = v.Version
	}
	assert.Equal(t, []string{"13.10.1", "13.6.0", "9.7.0", "latest"}, names)
	assert.Equal(t, VerifyVerified, versions[1].Status)
	assert.Equal(t, VerifyUnknown, versions[0].Status)
}

func TestClearCache(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, WriteVerified(store.VersionDirectory("13.6.0"), boolPtr(true)))

	require.NoError(t, store.ClearCache())
	assert.NoDirExists(t, store.CacheDirectory())
	require.NoError(t, store.ClearCache())
}
