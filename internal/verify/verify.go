// Package verify runs the smoke test against an installed binary and records the outcome.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/platform"
	"github.com/dorcha-inc/cyinstall/internal/state"
	"github.com/dorcha-inc/cyinstall/internal/xvfb"
)

const (
	SmokeTestFlag = "--smoke-test"
	PingFlag      = "--ping"

	// DefaultUXDelay is the minimum time verification appears to take
	DefaultUXDelay = 1500 * time.Millisecond

	maxToken = 1000
)

// Display is a virtual display the smoke test can run against
type Display interface {
	Start(ctx context.Context) error
	Stop() error
	Env() []string
}

// Config holds what a Verifier needs to know about the environment
type Config struct {
	Store            *state.Store
	PackageVersion   string
	SmokeTestTimeout time.Duration
	// Display is the value of DISPLAY. On Linux an empty value starts Xvfb.
	Display string
}

// Options for a single verification
type Options struct {
	Force bool
	Out   io.Writer
}

// Verifier checks that the installed binary starts
type Verifier struct {
	store          *state.Store
	packageVersion string
	platform       string
	goos           string
	display        string
	clock          clockwork.Clock
	executor       *core.CommandExecutor
	uxDelay        time.Duration
	token          func() int
	newDisplay     func() Display
}

// NewVerifier creates a verifier using the real clock and os/exec
func NewVerifier(cfg Config) *Verifier {
	return NewVerifierWithClockAndRunner(cfg, clockwork.NewRealClock(), core.NewExecCommandRunner())
}

// NewVerifierWithClockAndRunner creates a verifier with a custom clock and command runner
func NewVerifierWithClockAndRunner(cfg Config, clock clockwork.Clock, runner core.CommandRunner) *Verifier {
	return &Verifier{
		store:          cfg.Store,
		packageVersion: cfg.PackageVersion,
		platform:       platform.Current(),
		goos:           runtime.GOOS,
		display:        cfg.Display,
		clock:          clock,
		executor:       core.NewCommandExecutorWithClockAndRunner(cfg.SmokeTestTimeout, clock, runner),
		uxDelay:        DefaultUXDelay,
		token:          func() int { return rand.IntN(maxToken) }, // #nosec G404 -- the ping token is not a secret
		newDisplay: func() Display {
			n := xvfb.NextFreeDisplay(xvfb.DefaultDisplayNumber)
			return xvfb.NewWithClockAndRunner(n, xvfb.DefaultStartTimeout, clock, runner, xvfb.SocketReady)
		},
	}
}

// Verify checks the recorded installation and runs the smoke test unless the
// binary is already verified. Force always runs it.
func (v *Verifier) Verify(ctx context.Context, opts Options) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	record := v.store.ReadInstallRecord()
	installDir := record.InstallDirectory
	if installDir == "" {
		installDir = v.store.VersionDirectory(v.packageVersion)
	}

	executable, err := platform.ExecutablePath(v.platform, installDir)
	if err != nil {
		return err
	}

	zap.L().Debug("Checking if executable exists", zap.String("executable", executable))
	if err := checkInstalled(record, executable); err != nil {
		return err
	}

	if v.packageVersion != "" && record.Version != v.packageVersion {
		warnVersionMismatch(out, record.Version, v.packageVersion)
	}

	status := state.ReadBinaryState(installDir).Status()
	zap.L().Debug("Binary verification state", zap.Stringer("status", status), zap.Bool("force", opts.Force))
	if status == state.VerifyVerified && !opts.Force {
		return nil
	}

	return v.testBinary(ctx, out, record.Version, installDir, executable)
}

func checkInstalled(record state.InstallRecord, executable string) error {
	exists, err := core.PathExists(executable)
	if err != nil || !exists || record.Version == "" {
		detail := fmt.Sprintf("%s executable not found at: %s", core.ProductName, executable)
		return core.NewInstallError(core.KindMissingExecutable, detail, err)
	}
	return nil
}

func warnVersionMismatch(out io.Writer, installed, expected string) {
	relation := "does not match"
	a, b := state.CanonicalVersion(installed), state.CanonicalVersion(expected)
	if a != "" && b != "" {
		switch semver.Compare(a, b) {
		case -1:
			relation = "is older than"
		case 1:
			relation = "is newer than"
		}
	}

	zap.L().Warn("Installed version differs from package version",
		zap.String("installed", installed),
		zap.String("expected", expected))

	core.MustFprintf(out, "Installed version %s %s the expected package version %s\n\n", installed, relation, expected)
	core.MustFprintf(out, "Note: there is no guarantee these versions will work properly together.\n\n")
}

// testBinary clears the verification record, runs the smoke test alongside
// the UX delay, and records the outcome.
func (v *Verifier) testBinary(ctx context.Context, out io.Writer, version, installDir, executable string) error {
	core.MustFprintf(out, "It looks like this is your first time using %s: %s\n\n", core.ProductName, version)
	core.MustFprintf(out, "Verifying %s can run %s\n", core.ProductName, executable)

	zap.L().Debug("Clearing out the verified version")
	if err := state.WriteVerified(installDir, nil); err != nil {
		return err
	}

	smokeDone := make(chan error, 1)
	go func() {
		smokeDone <- v.runSmokeTest(ctx, executable)
	}()

	if v.uxDelay > 0 {
		select {
		case <-v.clock.After(v.uxDelay):
		case <-ctx.Done():
		}
	}
	smokeErr := <-smokeDone

	verified := smokeErr == nil
	if err := state.WriteVerified(installDir, &verified); err != nil {
		return errors.Join(smokeErr, err)
	}
	if smokeErr != nil {
		return smokeErr
	}

	zap.L().Debug("Wrote verified: true", zap.String("install_directory", installDir))
	core.MustFprintf(out, "Verified %s! %s\n", core.ProductName, executable)
	return nil
}

// runSmokeTest runs the smoke test, inside a virtual display when one is needed.
// The display is stopped on every path once started.
func (v *Verifier) runSmokeTest(ctx context.Context, executable string) (err error) {
	needsDisplay := xvfb.IsNeeded(v.goos, v.display)
	zap.L().Debug("Needs virtual display?", zap.Bool("needs_display", needsDisplay))
	if !needsDisplay {
		return v.SmokeTest(ctx, executable, nil)
	}

	display := v.newDisplay()
	if err := display.Start(ctx); err != nil {
		return asDisplayError(err)
	}
	defer func() {
		if stopErr := display.Stop(); stopErr != nil && err == nil {
			err = asDisplayError(stopErr)
		}
	}()

	return v.SmokeTest(ctx, executable, display.Env())
}

func asDisplayError(err error) error {
	if core.KindOf(err) == core.KindVirtualDisplayFailed {
		return err
	}
	detail := fmt.Sprintf("Caught error trying to run XVFB: %q", err.Error())
	return core.NewInstallError(core.KindVirtualDisplayFailed, detail, err)
}

// SmokeTest spawns executable with the smoke test flag and a random ping and
// checks that the ping is echoed on stdout.
func (v *Verifier) SmokeTest(ctx context.Context, executable string, env []string) error {
	token := strconv.Itoa(v.token())
	args := []string{SmokeTestFlag, PingFlag + "=" + token}
	command := executable + " " + strings.Join(args, " ")
	zap.L().Debug("Running smoke test", zap.String("command", command))

	result, err := v.executor.Execute(ctx, executable, args, env)
	if err != nil {
		detail := err.Error()
		if result != nil && strings.TrimSpace(result.Stderr) != "" {
			detail += "\n" + strings.TrimSpace(result.Stderr)
		}
		return core.NewInstallError(core.KindSmokeTestFailed, detail, err)
	}

	if result.ExitCode != 0 {
		zap.L().Debug("Smoke test exited non-zero", zap.Int("exit_code", result.ExitCode))
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("%s exited with code %d", command, result.ExitCode)
		}
		return core.NewInstallError(core.KindSmokeTestFailed, detail, nil)
	}

	returned := strings.TrimSpace(result.Stdout)
	zap.L().Debug("Smoke test output", zap.String("stdout", returned))
	if !StdoutLineMatches(token, returned) {
		detail := fmt.Sprintf("Smoke test returned wrong code.\n\nCommand was: %s\n\nReturned: %s", command, returned)
		return core.NewInstallError(core.KindSmokeTestFailed, detail, nil)
	}

	return nil
}

// StdoutLineMatches reports whether any trimmed line of stdout equals expected
func StdoutLineMatches(expected, stdout string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == expected {
			return true
		}
	}
	return false
}

// CurrentDisplay returns the DISPLAY of the running process
func CurrentDisplay() string {
	return os.Getenv("DISPLAY")
}
