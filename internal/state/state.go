// Package state reads and writes the install record and the binary
// verification record that track what is installed and whether it works.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

const (
	CliStateFileName    = "cli_state.json"
	BinaryStateFileName = "binary_state.json"

	// LatestDirName is the cache directory used when no version is known
	LatestDirName = "latest"

	keyVersion               = "version"
	keyInstallDirectory      = "install_directory"
	keyInstallDirectoryCamel = "installDirectory"
	keyVerified              = "verified"
)

// InstallRecord is the last successfully installed version and where it lives
type InstallRecord struct {
	Version          string
	InstallDirectory string
}

// InstallStatus is the state of the install record relative to a target version
type InstallStatus int

const (
	InstallAbsent InstallStatus = iota
	InstallMismatch
	InstallCurrent
)

func (s InstallStatus) String() string {
	switch s {
	case InstallMismatch:
		return "mismatch"
	case InstallCurrent:
		return "current"
	default:
		return "absent"
	}
}

// Status compares the record with target. An empty target matches any recorded version.
func (r InstallRecord) Status(target string) InstallStatus {
	switch {
	case r.Version == "":
		return InstallAbsent
	case target == "" || r.Version == target:
		return InstallCurrent
	default:
		return InstallMismatch
	}
}

// BinaryState is the verification record stored next to the installed binary.
// A nil Verified means verification has not completed.
type BinaryState struct {
	Verified *bool
}

// VerifyStatus is the verification state of an installed binary
type VerifyStatus int

const (
	VerifyUnknown VerifyStatus = iota
	VerifyFailed
	VerifyVerified
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyFailed:
		return "failed"
	case VerifyVerified:
		return "verified"
	default:
		return "unknown"
	}
}

func (b BinaryState) Status() VerifyStatus {
	switch {
	case b.Verified == nil:
		return VerifyUnknown
	case *b.Verified:
		return VerifyVerified
	default:
		return VerifyFailed
	}
}

// Store locates the state files. The install record lives in stateDir and the
// extracted binaries live in version-named directories under cacheDir.
type Store struct {
	stateDir string
	cacheDir string
}

func NewStore(stateDir, cacheDir string) *Store {
	return &Store{stateDir: stateDir, cacheDir: cacheDir}
}

// CliStatePath returns the path of the install record
func (s *Store) CliStatePath() string {
	return filepath.Join(s.stateDir, CliStateFileName)
}

// CacheDirectory returns the root of the version-namespaced cache
func (s *Store) CacheDirectory() string {
	return s.cacheDir
}

// VersionDirectory returns the cache directory for version
func (s *Store) VersionDirectory(version string) string {
	if version == "" {
		version = LatestDirName
	}
	return filepath.Join(s.cacheDir, version)
}

// CheckVersionLabel returns an error unless version names a single directory
// inside the cache. The empty version is the latest directory.
func CheckVersionLabel(version string) error {
	if version == "" {
		return nil
	}
	if version == "." || version == ".." || strings.ContainsAny(version, `/\`) || filepath.Base(version) != version {
		return fmt.Errorf("version %q cannot be used as a cache directory name", version)
	}
	return nil
}

// BinaryDirectory returns the recorded install directory, or the cache
// directory for version when nothing is recorded.
func (s *Store) BinaryDirectory(version string) string {
	if dir := s.ReadInstallRecord().InstallDirectory; dir != "" {
		return dir
	}
	return s.VersionDirectory(version)
}

// ReadInstallRecord reads the install record. It never fails: a missing or
// corrupt file is an empty record.
func (s *Store) ReadInstallRecord() InstallRecord {
	contents := readJSONObject(s.CliStatePath())
	return InstallRecord{
		Version:          stringField(contents, keyVersion),
		InstallDirectory: stringField(contents, keyInstallDirectory, keyInstallDirectoryCamel),
	}
}

// WriteInstallRecord writes the version and install directory together
func (s *Store) WriteInstallRecord(record InstallRecord) error {
	return updateJSONObject(s.CliStatePath(), func(contents map[string]any) {
		contents[keyVersion] = record.Version
		contents[keyInstallDirectory] = record.InstallDirectory
		delete(contents, keyInstallDirectoryCamel)
	})
}

// ClearInstallRecord removes the install record
func (s *Store) ClearInstallRecord() error {
	zap.L().Debug("Removing install record", zap.String("path", s.CliStatePath()))
	return core.RemoveIfExists(s.CliStatePath())
}

// BinaryStatePath returns the path of the verification record inside installDir
func BinaryStatePath(installDir string) string {
	return filepath.Join(installDir, BinaryStateFileName)
}

// ReadBinaryState reads the verification record. A missing or corrupt file is an empty record.
func ReadBinaryState(installDir string) BinaryState {
	contents := readJSONObject(BinaryStatePath(installDir))
	if verified, ok := contents[keyVerified].(bool); ok {
		return BinaryState{Verified: &verified}
	}
	return BinaryState{}
}

// HasBinaryState reports whether a verification record exists in installDir
func HasBinaryState(installDir string) bool {
	exists, err := core.PathExists(BinaryStatePath(installDir))
	return err == nil && exists
}

// WriteVerified records the verification outcome. nil writes JSON null.
func WriteVerified(installDir string, verified *bool) error {
	return updateJSONObject(BinaryStatePath(installDir), func(contents map[string]any) {
		if verified == nil {
			contents[keyVerified] = nil
			return
		}
		contents[keyVerified] = *verified
	})
}

// ClearBinaryDirectory removes installDir and everything in it
func ClearBinaryDirectory(installDir string) error {
	zap.L().Debug("Removing binary directory", zap.String("path", installDir))
	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove binary directory: %w", err)
	}
	return nil
}

// CachedVersion is one version directory found in the cache
type CachedVersion struct {
	Version string
	Path    string
	Status  VerifyStatus
}

// ListCachedVersions returns the version directories in the cache, newest first.
// A missing cache directory yields an empty list.
func (s *Store) ListCachedVersions() ([]CachedVersion, error) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var versions []CachedVersion
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.cacheDir, entry.Name())
		versions = append(versions, CachedVersion{
			Version: entry.Name(),
			Path:    dir,
			Status:  ReadBinaryState(dir).Status(),
		})
	}

	slices.SortFunc(versions, func(a, b CachedVersion) int {
		return compareVersionsDesc(a.Version, b.Version)
	})

	return versions, nil
}

// compareVersionsDesc orders valid semantic versions newest first, followed by
// other names in lexical order.
func compareVersionsDesc(a, b string) int {
	va, vb := CanonicalVersion(a), CanonicalVersion(b)
	switch {
	case va != "" && vb != "":
		return semver.Compare(vb, va)
	case va != "":
		return -1
	case vb != "":
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// CanonicalVersion returns version as a semver string with a "v" prefix, or
// "" when it is not a valid semantic version.
func CanonicalVersion(version string) string {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return ""
	}
	return version
}

// ClearCache removes the whole cache directory
func (s *Store) ClearCache() error {
	zap.L().Debug("Clearing cache", zap.String("path", s.cacheDir))
	if err := os.RemoveAll(s.cacheDir); err != nil {
		return fmt.Errorf("failed to clear cache directory: %w", err)
	}
	return nil
}
