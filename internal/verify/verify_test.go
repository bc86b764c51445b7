package verify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorcha-inc/cyinstall/internal/core"
	"github.com/dorcha-inc/cyinstall/internal/platform"
	"github.com/dorcha-inc/cyinstall/internal/state"
)

const (
	testVersion = "13.6.0"
	testToken   = 42
)

type fakeDisplay struct {
	startErr error
	stopErr  error
	started  bool
	stopped  bool
}

func (d *fakeDisplay) Start(context.Context) error {
	d.started = true
	return d.startErr
}

func (d *fakeDisplay) Stop() error {
	d.stopped = true
	return d.stopErr
}

func (d *fakeDisplay) Env() []string {
	return []string{"DISPLAY=:99"}
}

type fixture struct {
	verifier   *Verifier
	store      *state.Store
	installDir string
	executable string
	clock      *clockwork.FakeClock
	display    *fakeDisplay
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == core.GOOSWindows {
		t.Skip("Skipping shell script test on Windows")
	}
}

// newFixture records testVersion as installed and writes script as the linux executable.
func newFixture(t *testing.T, script string) *fixture {
	t.Helper()
	skipOnWindows(t)

	root := t.TempDir()
	store := state.NewStore(filepath.Join(root, "state"), filepath.Join(root, "cache"))
	installDir := store.VersionDirectory(testVersion)

	executable, err := platform.ExecutablePath(platform.Linux, installDir)
	require.NoError(t, err)
	if script != "" {
		// #nosec G301 -- test directory permissions are acceptable for temporary test files
		require.NoError(t, os.MkdirAll(filepath.Dir(executable), 0755))
		// #nosec G306 -- test stub must be executable
		require.NoError(t, os.WriteFile(executable, []byte("#!/bin/sh\n"+script), 0755))
	}
	require.NoError(t, store.WriteInstallRecord(state.InstallRecord{Version: testVersion, InstallDirectory: installDir}))

	clock := clockwork.NewFakeClock()
	display := &fakeDisplay{}
	v := NewVerifierWithClockAndRunner(Config{
		Store:          store,
		PackageVersion: testVersion,
		Display:        ":0",
	}, clock, core.NewExecCommandRunner())
	v.platform = platform.Linux
	v.goos = core.GOOSDarwin
	v.uxDelay = 0
	v.token = func() int { return testToken }
	v.newDisplay = func() Display { return display }

	return &fixture{
		verifier:   v,
		store:      store,
		installDir: installDir,
		executable: executable,
		clock:      clock,
		display:    display,
	}
}

func (f *fixture) status() state.VerifyStatus {
	return state.ReadBinaryState(f.installDir).Status()
}

const echoPing = `if [ "$1" = "--smoke-test" ] && [ "$2" = "--ping=42" ]; then echo 42; else exit 2; fi
`

func TestVerify_Success(t *testing.T) {
	f := newFixture(t, echoPing)
	var out bytes.Buffer

	require.NoError(t, f.verifier.Verify(context.Background(), Options{Out: &out}))

	assert.Equal(t, state.VerifyVerified, f.status())
	assert.Contains(t, out.String(), "It looks like this is your first time using Cypress: 13.6.0")
	assert.Contains(t, out.String(), "Verified Cypress! "+f.executable)
	assert.False(t, f.display.started)
}

func TestVerify_SkipsWhenVerified(t *testing.T) {
	f := newFixture(t, "exit 1\n")
	verified := true
	require.NoError(t, state.WriteVerified(f.installDir, &verified))

	var out bytes.Buffer
	require.NoError(t, f.verifier.Verify(context.Background(), Options{Out: &out}))
	assert.Empty(t, out.String())

	err := f.verifier.Verify(context.Background(), Options{Force: true})
	require.Error(t, err)
	assert.Equal(t, core.KindSmokeTestFailed, core.KindOf(err))
	assert.Equal(t, state.VerifyFailed, f.status())
}

func TestVerify_RerunsAfterFailure(t *testing.T) {
	f := newFixture(t, echoPing)
	verified := false
	require.NoError(t, state.WriteVerified(f.installDir, &verified))

	require.NoError(t, f.verifier.Verify(context.Background(), Options{}))
	assert.Equal(t, state.VerifyVerified, f.status())
}

func TestVerify_WrongPing(t *testing.T) {
	f := newFixture(t, "echo 7\n")

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindSmokeTestFailed, core.KindOf(err))
	assert.Contains(t, err.Error(), "Smoke test returned wrong code.")
	assert.Contains(t, err.Error(), "--smoke-test --ping=42")
	assert.Contains(t, err.Error(), "Returned: 7")
	assert.Equal(t, state.VerifyFailed, f.status())
}

func TestVerify_NonZeroExitAttachesStderr(t *testing.T) {
	f := newFixture(t, "echo 'error while loading shared libraries: libgtk-3.so.0' >&2\nexit 127\n")

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindSmokeTestFailed, core.KindOf(err))
	assert.Contains(t, err.Error(), "libgtk-3.so.0")
	assert.Equal(t, state.VerifyFailed, f.status())
}

func TestVerify_MissingExecutable(t *testing.T) {
	f := newFixture(t, "")

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindMissingExecutable, core.KindOf(err))
	assert.Contains(t, err.Error(), "Cypress executable not found at: "+f.executable)
}

func TestVerify_NothingInstalled(t *testing.T) {
	f := newFixture(t, echoPing)
	require.NoError(t, f.store.ClearInstallRecord())

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindMissingExecutable, core.KindOf(err))
}

func TestVerify_VersionMismatchWarning(t *testing.T) {
	f := newFixture(t, echoPing)
	f.verifier.packageVersion = "13.10.0"

	var out bytes.Buffer
	require.NoError(t, f.verifier.Verify(context.Background(), Options{Out: &out}))
	assert.Contains(t, out.String(), "Installed version 13.6.0 is older than the expected package version 13.10.0")

	out.Reset()
	f.verifier.packageVersion = "custom-build"
	require.NoError(t, f.verifier.Verify(context.Background(), Options{Out: &out, Force: true}))
	assert.Contains(t, out.String(), "Installed version 13.6.0 does not match the expected package version custom-build")
}

func TestVerify_UsesVirtualDisplay(t *testing.T) {
	f := newFixture(t, `if [ "$DISPLAY" = ":99" ]; then echo 42; else exit 3; fi
`)
	f.verifier.goos = core.GOOSLinux
	f.verifier.display = ""

	require.NoError(t, f.verifier.Verify(context.Background(), Options{}))
	assert.True(t, f.display.started)
	assert.True(t, f.display.stopped)
}

func TestVerify_StopsDisplayOnFailure(t *testing.T) {
	f := newFixture(t, "exit 1\n")
	f.verifier.goos = core.GOOSLinux
	f.verifier.display = ""

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindSmokeTestFailed, core.KindOf(err))
	assert.True(t, f.display.stopped)
}

func TestVerify_DisplayStartFailure(t *testing.T) {
	f := newFixture(t, echoPing)
	f.verifier.goos = core.GOOSLinux
	f.verifier.display = ""
	f.display.startErr = errors.New("spawn Xvfb ENOENT")

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindVirtualDisplayFailed, core.KindOf(err))
	assert.Contains(t, err.Error(), `Caught error trying to run XVFB: "spawn Xvfb ENOENT"`)
	assert.Equal(t, state.VerifyFailed, f.status())
}

func TestVerify_DisplayStopFailure(t *testing.T) {
	f := newFixture(t, echoPing)
	f.verifier.goos = core.GOOSLinux
	f.verifier.display = ""
	f.display.stopErr = errors.New("kill failed")

	err := f.verifier.Verify(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindVirtualDisplayFailed, core.KindOf(err))
}

func TestVerify_WaitsForUXDelay(t *testing.T) {
	f := newFixture(t, echoPing)
	f.verifier.uxDelay = DefaultUXDelay

	errCh := make(chan error, 1)
	go func() { errCh <- f.verifier.Verify(context.Background(), Options{}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	select {
	case <-errCh:
		t.Fatal("Verify returned before the delay elapsed")
	default:
	}

	f.clock.Advance(DefaultUXDelay)
	require.NoError(t, <-errCh)
	assert.Equal(t, state.VerifyVerified, f.status())
}

func TestSmokeTest_SpawnError(t *testing.T) {
	f := newFixture(t, "")

	err := f.verifier.SmokeTest(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
	assert.Equal(t, core.KindSmokeTestFailed, core.KindOf(err))
}

func TestStdoutLineMatches(t *testing.T) {
	assert.True(t, StdoutLineMatches("42", "42"))
	assert.True(t, StdoutLineMatches("42", "some warning\n  42  \n"))
	assert.False(t, StdoutLineMatches("42", "420"))
	assert.False(t, StdoutLineMatches("42", ""))
}
