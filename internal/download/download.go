// Package download fetches the application archive from the download service.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/platform"
	"github.com/dorcha-inc/cyinstall/internal/progress"
)

const (
	// VersionHeader carries the version a redirect resolves to
	VersionHeader = "x-version"

	DefaultArchiveName = "cypress.zip"
	DefaultThrottle    = 100 * time.Millisecond
	maxRedirects       = 10
)

// Downloader streams archives from the download service to disk
type Downloader struct {
	Client   *http.Client
	BaseURL  string
	Platform string
	Arch     string
	Clock    clockwork.Clock
	Throttle time.Duration
}

// NewDownloader creates a downloader for the running platform
func NewDownloader(baseURL string, throttle time.Duration) *Downloader {
	return &Downloader{
		Client:   http.DefaultClient,
		BaseURL:  baseURL,
		Platform: platform.Current(),
		Arch:     platform.CurrentArch(),
		Clock:    clockwork.NewRealClock(),
		Throttle: throttle,
	}
}

// Options describes one download
type Options struct {
	// Version is a version number, a full URL, or empty for the latest build
	Version     string
	Destination string
	OnProgress  progress.Func
}

// Result describes a finished download
type Result struct {
	Path       string
	Downloaded bool
	// Version is the effective version: the redirect's version header when
	// present, otherwise the requested version.
	Version string
	URL     string
}

// IsURL reports whether s is an absolute http(s) URL
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// URL returns the download URL for version. A version that is already a URL is returned verbatim.
func (d *Downloader) URL(version string) (string, error) {
	if IsURL(version) {
		zap.L().Debug("Version is already a URL", zap.String("url", version))
		return version, nil
	}

	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse download base URL: %w", err)
	}

	path := "desktop"
	if version != "" {
		path += "/" + version
	}
	endpoint := base.ResolveReference(&url.URL{Path: path})

	return fmt.Sprintf("%s?platform=%s&arch=%s", endpoint.String(),
		url.QueryEscape(d.Platform), url.QueryEscape(d.Arch)), nil
}

// Download streams the archive for opts.Version to opts.Destination.
// Failures are reported as download_failed install errors.
func (d *Downloader) Download(ctx context.Context, opts Options) (*Result, error) {
	downloadURL, err := d.URL(opts.Version)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Downloading", zap.String("url", downloadURL), zap.String("destination", opts.Destination))

	// #nosec G301 -- download directory permissions 0755 are acceptable
	if err := os.MkdirAll(filepath.Dir(opts.Destination), 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	effectiveVersion := opts.Version
	client := d.client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if req.Response != nil {
			if version := req.Response.Header.Get(VersionHeader); version != "" {
				zap.L().Debug("Redirect carries version", zap.String("version", version))
				effectiveVersion = version
			}
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, downloadError(downloadURL, err.Error(), err)
	}
	defer core.LogDeferredError(resp.Body.Close)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Debug("Unexpected response code", zap.Int("status", resp.StatusCode))
		message := fmt.Sprintf("Failed downloading the %s binary.\nResponse code: %d\nResponse message: %s",
			core.ProductName, resp.StatusCode, statusText(resp))
		return nil, downloadError(downloadURL, message, nil)
	}

	if err := d.save(resp, opts); err != nil {
		return nil, downloadError(downloadURL, err.Error(), err)
	}

	zap.L().Debug("Download finished", zap.String("destination", opts.Destination), zap.String("version", effectiveVersion))

	return &Result{
		Path:       opts.Destination,
		Downloaded: true,
		Version:    effectiveVersion,
		URL:        downloadURL,
	}, nil
}

// client returns a copy of the configured client so redirect handling stays per request
func (d *Downloader) client() *http.Client {
	if d.Client == nil {
		return &http.Client{}
	}
	client := *d.Client
	return &client
}

// save writes the response body to a temp file next to the destination and
// renames it into place once complete.
func (d *Downloader) save(resp *http.Response, opts Options) error {
	tracker := progress.NewTracker(d.Clock, d.Throttle, resp.ContentLength, opts.OnProgress)
	tracker.Start()

	tmpPath := opts.Destination + ".tmp"
	// #nosec G304 -- destination is chosen by the installer, not user input
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	written := xsync.NewCounter()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reportProgress(done, tracker, written)
	}()

	_, copyErr := io.Copy(&countingWriter{w: file, n: written}, resp.Body)
	close(done)
	wg.Wait()

	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		core.LogDeferredError(func() error { return core.RemoveIfExists(tmpPath) })
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if err := os.Rename(tmpPath, opts.Destination); err != nil {
		core.LogDeferredError(func() error { return core.RemoveIfExists(tmpPath) })
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	tracker.Report(written.Value())
	return nil
}

func (d *Downloader) reportProgress(done <-chan struct{}, tracker *progress.Tracker, written *xsync.Counter) {
	interval := d.Throttle
	if interval <= 0 {
		interval = DefaultThrottle
	}

	ticker := d.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			tracker.Report(written.Value())
		}
	}
}

type countingWriter struct {
	w io.Writer
	n *xsync.Counter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func downloadError(downloadURL, message string, cause error) error {
	detail := fmt.Sprintf("URL: %s\n%s", downloadURL, message)
	zap.L().Debug("Download failed", zap.String("detail", detail))
	return core.NewInstallError(core.KindDownloadFailed, detail, cause)
}
