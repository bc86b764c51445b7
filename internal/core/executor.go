package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// CommandRunner is an interface for running commands, allowing for testing with mocks
type CommandRunner interface {
	CommandContext(ctx context.Context, name string, arg ...string) Command
}

// Command is an interface for exec.Cmd, allowing for testing with mocks
type Command interface {
	StdoutPipe() (io.ReadCloser, error)
	StderrPipe() (io.ReadCloser, error)
	// SetEnv appends env to the inherited process environment.
	SetEnv(env []string)
	Start() error
	Wait() error
	// Kill terminates a started process. It is a no-op before Start.
	Kill() error
}

// execCommand wraps exec.Cmd to implement Command interface
type execCommand struct {
	*exec.Cmd
}

func (e *execCommand) SetEnv(env []string) {
	if len(env) == 0 {
		return
	}
	e.Env = append(os.Environ(), env...)
}

func (e *execCommand) Start() error {
	return e.Cmd.Start()
}

func (e *execCommand) Wait() error {
	return e.Cmd.Wait()
}

func (e *execCommand) StdoutPipe() (io.ReadCloser, error) {
	return e.Cmd.StdoutPipe()
}

func (e *execCommand) StderrPipe() (io.ReadCloser, error) {
	return e.Cmd.StderrPipe()
}

func (e *execCommand) Kill() error {
	if e.Process == nil {
		return nil
	}
	return e.Process.Kill()
}

// Interface guard for execCommand
var _ Command = &execCommand{}

// execCommandRunner wraps exec.CommandContext to implement CommandRunner
type execCommandRunner struct{}

func (e *execCommandRunner) CommandContext(ctx context.Context, name string, arg ...string) Command {
	return &execCommand{Cmd: exec.CommandContext(ctx, name, arg...)}
}

// Interface guard for execCommandRunner
var _ CommandRunner = &execCommandRunner{}

// NewExecCommandRunner returns a CommandRunner backed by os/exec
func NewExecCommandRunner() CommandRunner {
	return &execCommandRunner{}
}

// CommandExecutor runs a command to completion and captures its output
type CommandExecutor struct {
	timeout       time.Duration
	clock         clockwork.Clock
	commandRunner CommandRunner
}

// NewCommandExecutor creates a new executor with a real clock.
// A zero timeout disables the deadline.
func NewCommandExecutor(timeout time.Duration) *CommandExecutor {
	return NewCommandExecutorWithClockAndRunner(timeout, clockwork.NewRealClock(), &execCommandRunner{})
}

// NewCommandExecutorWithClockAndRunner creates a new executor with a custom clock and command runner
// This is useful for testing with a fake clock and mocked command execution
func NewCommandExecutorWithClockAndRunner(timeout time.Duration, clock clockwork.Clock, runner CommandRunner) *CommandExecutor {
	return &CommandExecutor{
		timeout:       timeout,
		clock:         clock,
		commandRunner: runner,
	}
}

// ExecutionResult represents the result of a command execution
type ExecutionResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    error  `json:"-"`
}

// Execute runs name with args and extra environment, waiting for it to exit.
// A non-zero exit code is reported in the result, not as an error.
func (e *CommandExecutor) Execute(ctx context.Context, name string, args []string, env []string) (*ExecutionResult, error) {
	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = clockwork.WithTimeout(ctx, e.clock, e.timeout)
		defer cancel()
	}

	cmd := e.commandRunner.CommandContext(execCtx, name, args...)
	cmd.SetEnv(env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	var stdoutBuf, stderrBuf strings.Builder
	done := make(chan error, 2)

	go func() {
		_, copyErr := io.Copy(&stdoutBuf, stdout)
		done <- copyErr
	}()

	go func() {
		_, copyErr := io.Copy(&stderrBuf, stderr)
		done <- copyErr
	}()

	// Pipes must be drained before Wait closes them
	<-done
	<-done

	err = cmd.Wait()

	result := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: 0,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.Error = fmt.Errorf("command timed out after %v", e.timeout)
		return result, result.Error
	}

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			result.ExitCode = exitError.ExitCode()
		} else {
			result.Error = err
			return result, err
		}
	}

	return result, nil
}
