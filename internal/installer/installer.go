// Package installer downloads, extracts and registers the application binary.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/config"
	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/download"
	"github.com/dorcha-inc/cyinstall/internal/extract"
	"github.com/dorcha-inc/cyinstall/internal/platform"
	"github.com/dorcha-inc/cyinstall/internal/progress"
	"github.com/dorcha-inc/cyinstall/internal/state"
	"github.com/dorcha-inc/cyinstall/internal/verify"
)

// DefaultUXDelay is the pause before reporting a finished installation
const DefaultUXDelay = time.Second

// Step names a phase of the installation that reports progress
type Step string

const (
	StepDownload Step = "Downloading"
	StepExtract  Step = "Unzipping"
)

// ProgressFunc receives progress for a step
type ProgressFunc func(step Step, percent int, etaSeconds int)

// Downloader fetches an archive
type Downloader interface {
	Download(ctx context.Context, opts download.Options) (*download.Result, error)
}

// Extractor unpacks an archive
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, onProgress progress.Func) error
}

// Verifier checks the installed binary
type Verifier interface {
	Verify(ctx context.Context, opts verify.Options) error
}

// Options for a single install run
type Options struct {
	// Version overrides the configured and package versions. It may be a
	// version number, a URL or a local path.
	Version string
	Force   bool
	// ArchivePath installs from an archive on disk instead of downloading
	ArchivePath string
	// Verify runs the smoke test after installing
	Verify     bool
	Out        io.Writer
	OnProgress ProgressFunc
}

// Result describes what an install run did
type Result struct {
	Action           Action
	Version          string
	InstallDirectory string
	Downloaded       bool
}

// Installer brings the installation in line with the wanted version
type Installer struct {
	cfg            *config.Config
	store          *state.Store
	packageVersion string
	platform       string
	downloader     Downloader
	extractor      Extractor
	verifier       Verifier
	clock          clockwork.Clock
	uxDelay        time.Duration
	getwd          func() (string, error)
}

// New creates an installer for the running platform
func New(cfg *config.Config, store *state.Store, packageVersion string, verifier Verifier) *Installer {
	return &Installer{
		cfg:            cfg,
		store:          store,
		packageVersion: packageVersion,
		platform:       platform.Current(),
		downloader:     download.NewDownloader(cfg.DownloadBaseURL, cfg.ProgressThrottle()),
		extractor:      extract.NewExtractor(cfg.ProgressThrottle()),
		verifier:       verifier,
		clock:          clockwork.NewRealClock(),
		uxDelay:        DefaultUXDelay,
		getwd:          os.Getwd,
	}
}

// Install runs the install workflow
func (i *Installer) Install(ctx context.Context, opts Options) (*Result, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	if i.cfg.ShouldSkipBinaryInstall() {
		core.MustFprintf(out, "Skipping binary installation. Env var '%s_SKIP_BINARY_INSTALL' was found.\n", config.EnvPrefix)
		return &Result{Action: ActionDisabled}, nil
	}

	zap.L().Debug("Installing", zap.String("version", opts.Version), zap.Bool("force", opts.Force), zap.String("archive", opts.ArchivePath))

	target := i.targetVersion(opts.Version, out)

	localPath, err := i.resolveLocalPath(target)
	if err != nil {
		return nil, err
	}
	if localPath == "" {
		if err := state.CheckVersionLabel(directoryLabel(target)); err != nil {
			return nil, fmt.Errorf("invalid binary version: %w", err)
		}
	}

	record := i.store.ReadInstallRecord()
	zap.L().Debug("Installed version", zap.String("installed", record.Version), zap.String("needed", target))

	if opts.Force && record.Version != "" {
		if err := i.store.ClearInstallRecord(); err != nil {
			return nil, err
		}
	} else if record.Status(target) == state.InstallMismatch {
		core.MustFprintf(out, "Installed version (%s) does not match needed version (%s).\n\n", record.Version, target)
	}

	cacheDir := i.store.VersionDirectory(directoryLabel(target))
	action := Plan(record, i.isCached(cacheDir), target, opts.Force, localPath)
	zap.L().Debug("Install plan", zap.Stringer("action", action), zap.String("directory", cacheDir))

	result := &Result{Action: action, Version: target}
	switch action {
	case ActionSkip:
		core.MustFprintf(out, "%s %s is already installed. Skipping installation.\n\n", core.ProductName, record.Version)
		core.MustFprintf(out, "Pass the --force option if you'd like to reinstall anyway.\n")
		result.Version = record.Version
		result.InstallDirectory = record.InstallDirectory
		return result, nil

	case ActionRegisterLocal:
		zap.L().Debug("Found local file, skipping download", zap.String("path", localPath))
		result.InstallDirectory = localPath
		if err := i.store.WriteInstallRecord(state.InstallRecord{Version: target, InstallDirectory: localPath}); err != nil {
			return nil, err
		}

	case ActionAdoptCached:
		zap.L().Debug("Already installed, skipping download", zap.String("directory", cacheDir))
		result.InstallDirectory = cacheDir
		if err := i.finish(ctx, out, result); err != nil {
			return nil, err
		}

	case ActionDownload:
		if err := i.downloadAndExtract(ctx, out, opts, result); err != nil {
			return nil, err
		}
		if err := i.finish(ctx, out, result); err != nil {
			return nil, err
		}
	}

	if opts.Verify && i.verifier != nil {
		verifyOpts := verify.Options{Force: opts.Force || action == ActionDownload, Out: out}
		if err := i.verifier.Verify(ctx, verifyOpts); err != nil {
			return result, err
		}
	}

	return result, nil
}

// targetVersion picks the version to install: the explicit option, then the
// configured binary version, then the package version.
func (i *Installer) targetVersion(requested string, out io.Writer) string {
	if requested != "" {
		return requested
	}

	target := i.packageVersion
	if override := i.cfg.BinaryVersion; override != "" && override != target {
		zap.L().Debug("Using configured binary version", zap.String("version", override))
		if target != "" {
			core.MustFprintf(out, "Forcing a binary version different than the default.\n\n")
			core.MustFprintf(out, "The CLI expected to install version: %s\n\n", target)
			core.MustFprintf(out, "Instead we will install version: %s\n\n", override)
			core.MustFprintf(out, "Note: there is no guarantee these versions will work properly together.\n\n")
		}
		target = override
	}
	return target
}

// resolveLocalPath returns the absolute path target refers to when it exists
// on disk, or "" when target is a version or URL.
func (i *Installer) resolveLocalPath(target string) (string, error) {
	if target == "" || download.IsURL(target) {
		return "", nil
	}

	candidate := target
	if !filepath.IsAbs(candidate) {
		cwd, err := i.getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current working directory: %w", err)
		}
		candidate = filepath.Join(cwd, candidate)
	}

	exists, err := core.PathExists(candidate)
	if err != nil || !exists {
		zap.L().Debug("Version is not a local path", zap.String("candidate", candidate))
		return "", nil
	}
	return candidate, nil
}

// isCached reports whether dir holds a completed installation: a verification
// record next to the executable.
func (i *Installer) isCached(dir string) bool {
	if !state.HasBinaryState(dir) {
		return false
	}
	executable, err := platform.ExecutablePath(i.platform, dir)
	if err != nil {
		return false
	}
	exists, err := core.PathExists(executable)
	return err == nil && exists
}

func (i *Installer) downloadAndExtract(ctx context.Context, out io.Writer, opts Options, result *Result) error {
	core.MustFprintf(out, "Installing %s (version: %s)\n\n", core.ProductName, displayVersion(result.Version))

	archive, err := i.fetchArchive(ctx, opts, result)
	if err != nil {
		return err
	}

	installDir := i.store.VersionDirectory(directoryLabel(result.Version))
	result.InstallDirectory = installDir

	if err := state.ClearBinaryDirectory(installDir); err != nil {
		return err
	}

	start := i.clock.Now()
	err = i.extractor.Extract(ctx, archive, installDir, stepProgress(StepExtract, opts.OnProgress))
	core.LogStep("extract", i.clock.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	if result.Downloaded {
		zap.L().Debug("Removing downloaded archive", zap.String("path", archive))
		if err := core.RemoveIfExists(archive); err != nil {
			return err
		}
	} else {
		zap.L().Debug("Not removing archive because it was not downloaded", zap.String("path", archive))
	}

	return i.store.WriteInstallRecord(state.InstallRecord{Version: result.Version, InstallDirectory: installDir})
}

// fetchArchive returns the archive to extract, downloading it unless opts names one
func (i *Installer) fetchArchive(ctx context.Context, opts Options, result *Result) (string, error) {
	if opts.ArchivePath != "" {
		archive, err := filepath.Abs(opts.ArchivePath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve archive path: %w", err)
		}
		return archive, nil
	}

	start := i.clock.Now()
	downloaded, err := i.downloader.Download(ctx, download.Options{
		Version:     result.Version,
		Destination: filepath.Join(i.store.CacheDirectory(), download.DefaultArchiveName),
		OnProgress:  stepProgress(StepDownload, opts.OnProgress),
	})
	core.LogStep("download", i.clock.Since(start).Seconds(), err)
	if err != nil {
		return "", err
	}

	result.Downloaded = downloaded.Downloaded
	if downloaded.Version != "" {
		if err := state.CheckVersionLabel(downloaded.Version); err != nil {
			if downloaded.Downloaded {
				core.LogDeferredError(func() error { return core.RemoveIfExists(downloaded.Path) })
			}
			detail := fmt.Sprintf("The download server returned an invalid version: %q", downloaded.Version)
			return "", core.NewInstallError(core.KindDownloadFailed, detail, err)
		}
		result.Version = downloaded.Version
	}
	return downloaded.Path, nil
}

// finish records the registration, waits the UX delay and prints the completion message
func (i *Installer) finish(ctx context.Context, out io.Writer, result *Result) error {
	if result.Action == ActionAdoptCached {
		record := state.InstallRecord{Version: result.Version, InstallDirectory: result.InstallDirectory}
		if err := i.store.WriteInstallRecord(record); err != nil {
			return err
		}
	}

	if dir, err := platform.ExecutableDir(i.platform, result.InstallDirectory); err == nil {
		core.MustFprintf(out, "Finished Installation %s\n", dir)
	}

	if i.uxDelay > 0 {
		select {
		case <-i.clock.After(i.uxDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	core.MustFprintf(out, "\nYou can now open %s by running: cyinstall verify\n", core.ProductName)
	return nil
}

// directoryLabel names the cache directory for an installation. A URL without
// a resolved version installs into the latest directory.
func directoryLabel(version string) string {
	if download.IsURL(version) {
		return ""
	}
	return version
}

func displayVersion(version string) string {
	if version == "" {
		return state.LatestDirName
	}
	return version
}

func stepProgress(step Step, fn ProgressFunc) progress.Func {
	if fn == nil {
		return nil
	}
	return func(percent, etaSeconds int) {
		fn(step, percent, etaSeconds)
	}
}

// Versions reports the package version and the installed binary version
type Versions struct {
	Package string `json:"package" yaml:"package"`
	Binary  string `json:"binary" yaml:"binary"`
}

// NotInstalled is reported as the binary version when nothing is installed
const NotInstalled = "not installed"

// GetVersions reads the installed binary version from store
func GetVersions(store *state.Store, packageVersion string) Versions {
	binary := store.ReadInstallRecord().Version
	if binary == "" {
		binary = NotInstalled
	}
	return Versions{Package: packageVersion, Binary: binary}
}
