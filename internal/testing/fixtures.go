package testing

import (
	"archive/zip"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dorcha-inc/cyinstall/internal/platform"
)

// ArchiveEntry is one file in a test archive
type ArchiveEntry struct {
	Name string
	Body string
	Mode fs.FileMode
}

// SmokeTestScript is an executable that answers the smoke test by echoing the
// token passed as --ping=<token>.
const SmokeTestScript = `#!/bin/sh
if [ "$1" = "--smoke-test" ]; then
  echo "${2#--ping=}"
  exit 0
fi
exit 1
`

// BinaryEntries returns the archive entries of a minimal application build for
// the given platform, with script as its executable.
func BinaryEntries(t *testing.T, name, script string) []ArchiveEntry {
	t.Helper()

	executable, err := platform.ExecutableSubpath(name)
	require.NoError(t, err)

	return []ArchiveEntry{
		{Name: filepath.ToSlash(executable), Body: script, Mode: 0o755},
		{Name: filepath.ToSlash(filepath.Join(filepath.Dir(executable), "resources", "app.txt")), Body: "app", Mode: 0o644},
	}
}

// WriteZip writes entries to a zip archive at path
func WriteZip(t *testing.T, path string, entries []ArchiveEntry) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	file, err := os.Create(path) // #nosec G304 -- test archive path
	require.NoError(t, err)

	writer := zip.NewWriter(file)
	for _, entry := range entries {
		header := &zip.FileHeader{Name: entry.Name, Method: zip.Deflate, Modified: time.Unix(0, 0)}
		mode := entry.Mode
		if mode == 0 {
			mode = 0o644
		}
		header.SetMode(mode)

		w, err := writer.CreateHeader(header)
		require.NoError(t, err)
		_, err = w.Write([]byte(entry.Body))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())
}

// ZipBytes builds a zip archive in memory
func ZipBytes(t *testing.T, entries []ArchiveEntry) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.zip")
	WriteZip(t, path, entries)
	data, err := os.ReadFile(path) // #nosec G304 -- test archive path
	require.NoError(t, err)
	return data
}

// DownloadServer serves an archive the way the download service does. Requests
// to /desktop or /desktop/<version> redirect to the archive, and the redirect
// carries the resolved version header when version is set.
type DownloadServer struct {
	*httptest.Server

	Archive []byte
	Version string

	mu       sync.Mutex
	requests []string
}

// NewDownloadServer starts a DownloadServer that is closed with the test
func NewDownloadServer(t *testing.T, archive []byte, version string) *DownloadServer {
	t.Helper()

	server := &DownloadServer{Archive: archive, Version: version}
	mux := http.NewServeMux()
	mux.HandleFunc("/desktop", server.redirect)
	mux.HandleFunc("/desktop/", server.redirect)
	mux.HandleFunc("/files/cypress.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(server.Archive)
	})

	server.Server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func (s *DownloadServer) redirect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, strings.TrimPrefix(r.URL.RequestURI(), "/"))
	s.mu.Unlock()

	if s.Version != "" {
		w.Header().Set("x-version", s.Version)
	}
	http.Redirect(w, r, "/files/cypress.zip", http.StatusFound)
}

// Requests returns the download requests seen so far, relative to the base URL
func (s *DownloadServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// BaseURL is the server URL with a trailing slash
func (s *DownloadServer) BaseURL() string {
	return s.URL + "/"
}
