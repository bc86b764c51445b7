// Package xvfb manages a virtual X display for running the application on
// Linux machines without a graphical session.
package xvfb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

const (
	Binary               = "Xvfb"
	DefaultDisplayNumber = 99
	DefaultScreen        = "1280x1024x24"
	DefaultStartTimeout  = 5 * time.Second

	pollInterval   = 100 * time.Millisecond
	maxDisplayScan = 100
	x11SocketDir   = "/tmp/.X11-unix"
)

// x11LockDir is where X servers write .X<n>-lock. It is fixed and ignores TMPDIR.
var x11LockDir = "/tmp"

// IsNeeded reports whether a virtual display must be provisioned: Linux with no DISPLAY set.
func IsNeeded(goos, display string) bool {
	return goos == core.GOOSLinux && strings.TrimSpace(display) == ""
}

// NextFreeDisplay returns the first display number from start with no X lock file
func NextFreeDisplay(start int) int {
	for n := start; n < start+maxDisplayScan; n++ {
		lock := filepath.Join(x11LockDir, fmt.Sprintf(".X%d-lock", n))
		if exists, err := core.PathExists(lock); err == nil && !exists {
			return n
		}
	}
	return start
}

// SocketReady reports whether the X server socket for display exists
func SocketReady(display int) bool {
	exists, err := core.PathExists(filepath.Join(x11SocketDir, fmt.Sprintf("X%d", display)))
	return err == nil && exists
}

// Xvfb is one virtual display server process
type Xvfb struct {
	display int
	timeout time.Duration
	clock   clockwork.Clock
	runner  core.CommandRunner
	ready   func(display int) bool

	mu     sync.Mutex
	cmd    core.Command
	cancel context.CancelFunc
	exited chan error
	stderr *strings.Builder
}

// New creates an Xvfb for display using the real clock and os/exec
func New(display int) *Xvfb {
	return NewWithClockAndRunner(display, DefaultStartTimeout, clockwork.NewRealClock(), core.NewExecCommandRunner(), SocketReady)
}

// NewWithClockAndRunner creates an Xvfb with a custom clock, command runner and readiness check
func NewWithClockAndRunner(display int, timeout time.Duration, clock clockwork.Clock, runner core.CommandRunner, ready func(display int) bool) *Xvfb {
	return &Xvfb{
		display: display,
		timeout: timeout,
		clock:   clock,
		runner:  runner,
		ready:   ready,
	}
}

// Display returns the X display name, such as ":99"
func (x *Xvfb) Display() string {
	return fmt.Sprintf(":%d", x.display)
}

// Env returns the environment a child process needs to use the display
func (x *Xvfb) Env() []string {
	return []string{"DISPLAY=" + x.Display()}
}

// Start launches the server and waits until it accepts connections, exits,
// or the start timeout elapses. Starting twice is a no-op.
func (x *Xvfb) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.cmd != nil {
		return nil
	}

	zap.L().Debug("Starting Xvfb", zap.String("display", x.Display()))

	// The process outlives ctx; Stop ends it.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := x.runner.CommandContext(procCtx, Binary, x.Display(), "-screen", "0", DefaultScreen)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return displayError("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return displayError(fmt.Sprintf("failed to start %s", Binary), err)
	}

	x.cmd = cmd
	x.cancel = cancel
	x.exited = make(chan error, 1)
	x.stderr = &strings.Builder{}

	go func(exited chan<- error, buf *strings.Builder) {
		_, _ = io.Copy(buf, stderr)
		exited <- cmd.Wait()
	}(x.exited, x.stderr)

	if err := x.waitReady(ctx); err != nil {
		x.stopLocked()
		return err
	}

	zap.L().Debug("Xvfb is ready", zap.String("display", x.Display()))
	return nil
}

func (x *Xvfb) waitReady(ctx context.Context) error {
	ticker := x.clock.NewTicker(pollInterval)
	defer ticker.Stop()
	timeout := x.clock.After(x.timeout)

	for {
		if x.ready(x.display) {
			return nil
		}

		select {
		case err := <-x.exited:
			// re-deliver so stopLocked does not block
			x.exited <- err
			detail := fmt.Sprintf("%s exited before the display was ready", Binary)
			if err != nil {
				detail = fmt.Sprintf("%s: %v", detail, err)
			}
			if output := strings.TrimSpace(x.stderr.String()); output != "" {
				detail += "\n" + output
			}
			return core.NewInstallError(core.KindVirtualDisplayFailed, detail, err)
		case <-timeout:
			return displayError(fmt.Sprintf("%s did not become ready within %v", Binary, x.timeout), nil)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Stop kills the server and waits for it to exit. It is a no-op when not started.
func (x *Xvfb) Stop() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stopLocked()
}

func (x *Xvfb) stopLocked() error {
	if x.cmd == nil {
		return nil
	}

	zap.L().Debug("Stopping Xvfb", zap.String("display", x.Display()))

	killErr := x.cmd.Kill()
	x.cancel()
	<-x.exited

	x.cmd = nil
	x.cancel = nil
	x.exited = nil

	if killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return displayError(fmt.Sprintf("failed to stop %s", Binary), killErr)
	}
	return nil
}

func displayError(detail string, err error) error {
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	return core.NewInstallError(core.KindVirtualDisplayFailed, detail, err)
}
