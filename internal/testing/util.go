// Package testing provides fixtures and helpers shared by the cyinstall tests.
package testing

import (
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

// CapturedOutput redirects the process stdout and stderr into pipes
type CapturedOutput struct {
	originalStdout *os.File
	originalStderr *os.File

	stdoutR *os.File
	stderrR *os.File
	stdoutW *os.File
	stderrW *os.File

	wg     sync.WaitGroup
	stdout []byte
	stderr []byte
}

// NewCapturedOutput starts capturing stdout and stderr. Output is drained
// while capturing so large writes do not block on a full pipe.
func NewCapturedOutput() (*CapturedOutput, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		core.LogDeferredError(stdoutR.Close)
		core.LogDeferredError(stdoutW.Close)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	captured := &CapturedOutput{
		originalStdout: os.Stdout,
		originalStderr: os.Stderr,
		stdoutR:        stdoutR,
		stderrR:        stderrR,
		stdoutW:        stdoutW,
		stderrW:        stderrW,
	}

	captured.wg.Add(2)
	go captured.drain(stdoutR, &captured.stdout)
	go captured.drain(stderrR, &captured.stderr)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	return captured, nil
}

func (c *CapturedOutput) drain(r io.Reader, into *[]byte) {
	defer c.wg.Done()
	data, err := io.ReadAll(r)
	if err != nil {
		return
	}
	*into = data
}

// Stop restores the original streams and returns what was written
func (c *CapturedOutput) Stop() (string, string) {
	os.Stdout = c.originalStdout
	os.Stderr = c.originalStderr

	// closing the write ends lets the drains see EOF
	core.LogDeferredError(c.stdoutW.Close)
	core.LogDeferredError(c.stderrW.Close)
	c.wg.Wait()

	core.LogDeferredError(c.stdoutR.Close)
	core.LogDeferredError(c.stderrR.Close)

	return string(c.stdout), string(c.stderr)
}

// Capture runs fn with stdout and stderr captured
func Capture(t *testing.T, fn func()) (string, string) {
	t.Helper()

	captured, err := NewCapturedOutput()
	if err != nil {
		t.Fatalf("failed to capture output: %v", err)
	}

	stopped := false
	t.Cleanup(func() {
		if !stopped {
			captured.Stop()
		}
	})

	fn()

	stopped = true
	return captured.Stop()
}
