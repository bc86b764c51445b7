// Package tui renders installer output on the terminal.
// It detects terminal capabilities and falls back to plain line output when
// piping, redirecting or running in CI.
//
// Environment Variables:
//   - NO_COLOR: Disable colors (respects https://no-color.org/)
//   - TERM=dumb: Disable colors
//   - CI: Print plain progress lines instead of an animated spinner
//
// Example usage:
//
//	ui := tui.New(os.Stdout)
//	defer ui.Close()
//	ui.Step("Downloading Cypress", 45, 12)
//	ui.Success("Downloaded Cypress")
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/jonboulle/clockwork"
	"golang.org/x/term"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

// Color definitions using ansi package
var (
	colorRed   = lipgloss.ANSIColor(1) // ANSI red
	colorGreen = lipgloss.ANSIColor(2) // ANSI green
	colorBlue  = lipgloss.ANSIColor(4) // ANSI blue
)

const defaultWidth = 80

// UI writes step progress and messages to one output
type UI struct {
	out io.Writer
	// interactive redraws a single spinner line per step instead of printing lines
	interactive bool
	// colorEnabled indicates if colors should be used
	colorEnabled bool
	width        int
	clock        clockwork.Clock

	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	spinnerStyle lipgloss.Style

	mu      sync.Mutex
	current *stepState
	// finished tracks steps that already reached 100% so late reports are dropped
	finished map[string]bool
}

type stepState struct {
	title   string
	percent int
	eta     int
	started time.Time
	ticker  clockwork.Ticker
	done    chan struct{}
}

// New creates a UI for out with automatic TTY detection
func New(out io.Writer) *UI {
	isTTY := false
	width := defaultWidth
	if file, ok := out.(*os.File); ok {
		isTTY = IsTerminal(file)
		if w, _, err := term.GetSize(int(file.Fd())); err == nil && w > 0 { // #nosec G115 -- file descriptors fit in int
			width = w
		}
	}

	return NewWithOptions(out, isTTY && !isCI(), isTTY && !isColorDisabled(), width, clockwork.NewRealClock())
}

// NewWithOptions creates a UI with explicit capabilities and clock
func NewWithOptions(out io.Writer, interactive, colorEnabled bool, width int, clock clockwork.Clock) *UI {
	// the renderer picks its color profile from out and the NO_COLOR family of variables
	renderer := lipgloss.NewRenderer(out)

	return &UI{
		out:          out,
		interactive:  interactive,
		colorEnabled: colorEnabled,
		width:        width,
		clock:        clock,
		successStyle: renderer.NewStyle().Foreground(colorGreen).Bold(true),
		errorStyle:   renderer.NewStyle().Foreground(colorRed).Bold(true),
		spinnerStyle: renderer.NewStyle().Foreground(colorBlue),
		finished:     make(map[string]bool),
	}
}

// IsTerminal checks if a file descriptor is connected to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) // #nosec G115 -- file descriptors fit in int
}

// isColorDisabled checks if colors are explicitly disabled
func isColorDisabled() bool {
	// Check standard NO_COLOR environment variable (https://no-color.org/)
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return os.Getenv("TERM") == "dumb"
}

func isCI() bool {
	return os.Getenv("CI") != ""
}

// Interactive reports whether progress is drawn as an animated line
func (u *UI) Interactive() bool {
	return u.interactive
}

// ColorEnabled returns whether colors should be used
func (u *UI) ColorEnabled() bool {
	return u.colorEnabled
}

// Step reports progress of a titled step. Reaching 100% finishes the step.
func (u *UI) Step(title string, percent, etaSeconds int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finished[title] {
		return
	}

	if !u.interactive {
		u.stepLineLocked(title, percent)
		return
	}

	if u.current == nil || u.current.title != title {
		u.stopLocked()
		u.startLocked(title)
	}
	if percent >= 100 {
		u.finished[title] = true
		u.stopLocked()
		core.MustFprintf(u.out, "%s %s\n", u.successStyle.Render("✓"), u.stepText(title, 100, 0))
		return
	}

	u.current.percent = percent
	u.current.eta = etaSeconds
	u.drawLocked(u.current)
}

// stepLineLocked prints the start and end of a step as plain lines
func (u *UI) stepLineLocked(title string, percent int) {
	if u.current == nil || u.current.title != title {
		u.current = &stepState{title: title}
		core.MustFprintf(u.out, "%s\n", title)
	}
	if percent >= 100 {
		u.finished[title] = true
		u.current = nil
		core.MustFprintf(u.out, "%s\n", u.stepText(title, 100, 0))
	}
}

func (u *UI) startLocked(title string) {
	state := &stepState{
		title:   title,
		started: u.clock.Now(),
		ticker:  u.clock.NewTicker(spinner.MiniDot.FPS),
		done:    make(chan struct{}),
	}
	u.current = state

	go func() {
		for {
			select {
			case <-state.ticker.Chan():
				u.mu.Lock()
				if u.current == state {
					u.drawLocked(state)
				}
				u.mu.Unlock()
			case <-state.done:
				return
			}
		}
	}()
}

// stopLocked ends the animation of the current step and clears its line
func (u *UI) stopLocked() {
	state := u.current
	if state == nil {
		return
	}
	u.current = nil

	if state.ticker != nil {
		state.ticker.Stop()
	}
	if state.done != nil {
		close(state.done)
		core.MustFprintf(u.out, "\r%s", ansi.EraseLine(2))
	}
}

func (u *UI) drawLocked(state *stepState) {
	elapsed := u.clock.Since(state.started)
	frames := spinner.MiniDot.Frames
	frame := frames[int(elapsed/spinner.MiniDot.FPS)%len(frames)]
	core.MustFprintf(u.out, "\r%s%s %s", ansi.EraseLine(2), u.spinnerStyle.Render(frame), u.stepText(state.title, state.percent, state.eta))
}

func (u *UI) stepText(title string, percent, etaSeconds int) string {
	text := fmt.Sprintf("%s %3d%%", title, percent)
	if percent < 100 && etaSeconds > 0 {
		text += fmt.Sprintf(" %ds", etaSeconds)
	}
	return text
}

// Success prints a message with a checkmark, ending any active step
func (u *UI) Success(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stopLocked()
	core.MustFprintf(u.out, "%s %s\n", u.successStyle.Render("✓"), message)
}

// Error prints an error report. The first line is highlighted.
func (u *UI) Error(report string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stopLocked()
	first, rest, found := strings.Cut(report, "\n")
	core.MustFprintf(u.out, "%s", u.errorStyle.Render(first))
	if found {
		core.MustFprintf(u.out, "\n%s", rest)
	}
	core.MustFprintf(u.out, "\n")
}

// RenderMarkdown renders markdown content using glamour.
// Returns the content unchanged when colors are disabled.
func (u *UI) RenderMarkdown(content string) (string, error) {
	if !u.colorEnabled {
		return content, nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(u.width),
	)
	if err != nil {
		return content, fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	return renderer.Render(content)
}

// Close ends any active step without a success message
func (u *UI) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stopLocked()
}
