package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const windowsOS = "windows"

func writeScript(t *testing.T, body string) string {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "script.sh")
	// #nosec G306 -- test file permissions are acceptable for temporary test files
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+body), 0755))
	return scriptPath
}

// TestNewCommandExecutor tests the creation of a new executor
func TestNewCommandExecutor(t *testing.T) {
	executor := NewCommandExecutor(30 * time.Second)
	require.NotNil(t, executor)
	assert.Equal(t, 30*time.Second, executor.timeout)
	assert.NotNil(t, executor.clock)
	assert.NotNil(t, executor.commandRunner)
}

// TestExecute_Success tests a command that exits zero
func TestExecute_Success(t *testing.T) {
	if runtime.GOOS == windowsOS {
		t.Skip("Skipping shell script test on Windows")
	}

	executor := NewCommandExecutor(10 * time.Second)
	script := writeScript(t, "echo hello world\n")

	result, err := executor.Execute(context.Background(), script, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello world")
	assert.Empty(t, result.Stderr)
	assert.Nil(t, result.Error)
}

// TestExecute_NonZeroExit tests that a failing exit code is reported in the result
func TestExecute_NonZeroExit(t *testing.T) {
	if runtime.GOOS == windowsOS {
		t.Skip("Skipping shell script test on Windows")
	}

	executor := NewCommandExecutor(10 * time.Second)
	script := writeScript(t, "echo broken >&2\nexit 3\n")

	result, err := executor.Execute(context.Background(), script, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "broken")
}

// TestExecute_Args tests that arguments are passed through
func TestExecute_Args(t *testing.T) {
	if runtime.GOOS == windowsOS {
		t.Skip("Skipping shell script test on Windows")
	}

	executor := NewCommandExecutor(0)
	script := writeScript(t, "echo \"$1 $2\"\n")

	result, err := executor.Execute(context.Background(), script, []string{"--smoke-test", "--ping=7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "--smoke-test --ping=7", strings.TrimSpace(result.Stdout))
}

// TestExecute_Env tests that extra environment is appended to the inherited one
func TestExecute_Env(t *testing.T) {
	if runtime.GOOS == windowsOS {
		t.Skip("Skipping shell script test on Windows")
	}

	executor := NewCommandExecutor(0)
	script := writeScript(t, "echo \"display=$DISPLAY\"\n")

	result, err := executor.Execute(context.Background(), script, nil, []string{"DISPLAY=:99"})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "display=:99")
}

// TestExecute_CommandNotFound tests handling of command not found errors
func TestExecute_CommandNotFound(t *testing.T) {
	executor := NewCommandExecutor(10 * time.Second)

	result, err := executor.Execute(context.Background(), "/nonexistent/path/to/command", nil, nil)
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to start command")
}

// timeoutMockCommandRunner creates commands that block until their context expires
type timeoutMockCommandRunner struct{}

func (m *timeoutMockCommandRunner) CommandContext(ctx context.Context, name string, arg ...string) Command {
	return &timeoutMockCommand{ctx: ctx}
}

type timeoutMockCommand struct {
	ctx context.Context
}

func (m *timeoutMockCommand) StdoutPipe() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *timeoutMockCommand) StderrPipe() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *timeoutMockCommand) SetEnv(env []string) {}

func (m *timeoutMockCommand) Start() error {
	return nil
}

func (m *timeoutMockCommand) Wait() error {
	<-m.ctx.Done()
	return m.ctx.Err()
}

func (m *timeoutMockCommand) Kill() error {
	return nil
}

// TestExecute_Timeout tests that execution times out correctly using a fake clock
func TestExecute_Timeout(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	executor := NewCommandExecutorWithClockAndRunner(time.Second, fakeClock, &timeoutMockCommandRunner{})

	done := make(chan struct{})
	var result *ExecutionResult
	var execErr error
	go func() {
		result, execErr = executor.Execute(context.Background(), "Cypress", nil, nil)
		close(done)
	}()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer blockCancel()
	require.NoError(t, fakeClock.BlockUntilContext(blockCtx, 1))

	fakeClock.Advance(2 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execution did not complete after advancing clock")
	}

	require.Error(t, execErr)
	assert.Contains(t, execErr.Error(), "timed out")
	require.NotNil(t, result)
	assert.NotNil(t, result.Error)
}

// TestExecCommand_KillBeforeStart tests that Kill is a no-op for unstarted commands
func TestExecCommand_KillBeforeStart(t *testing.T) {
	cmd := NewExecCommandRunner().CommandContext(context.Background(), "/bin/true")
	assert.NoError(t, cmd.Kill())
}
