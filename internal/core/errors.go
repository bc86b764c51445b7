package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures that are reported to the user
type ErrorKind string

const (
	KindDownloadFailed       ErrorKind = "download_failed"
	KindMissingExecutable    ErrorKind = "missing_executable"
	KindSmokeTestFailed      ErrorKind = "smoke_test_failed"
	KindVirtualDisplayFailed ErrorKind = "virtual_display_failed"
	KindUnsupportedPlatform  ErrorKind = "unsupported_platform"
	KindUnexpected           ErrorKind = "unexpected"
)

type errorText struct {
	description string
	solution    string
}

var errorTexts = map[ErrorKind]errorText{
	KindDownloadFailed: {
		description: "The Cypress App could not be downloaded.",
		solution:    "Please check network connectivity and try again.",
	},
	KindMissingExecutable: {
		description: "No version of Cypress is installed.",
		solution:    "Please reinstall Cypress by running: cyinstall install",
	},
	KindSmokeTestFailed: {
		description: "Cypress failed to start.",
		solution:    "This is usually caused by a missing library or dependency. Make sure all required dependencies are installed.",
	},
	KindVirtualDisplayFailed: {
		description: "Your system is missing the dependency: XVFB",
		solution:    "Install XVFB and run Cypress again.",
	},
	KindUnsupportedPlatform: {
		description: "The current platform is not supported.",
		solution:    "Cypress can be installed on darwin, linux and win32.",
	},
	KindUnexpected: {
		description: "An unexpected error occurred.",
		solution:    "Please search the issue tracker for known problems or open a new issue.",
	},
}

const detailSeparator = "----------"

// InstallError is a failure of a known kind with an optional detail block
type InstallError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// NewInstallError creates an InstallError. err may be nil.
func NewInstallError(kind ErrorKind, detail string, err error) *InstallError {
	return &InstallError{Kind: kind, Detail: detail, Err: err}
}

// Error renders the description, solution and detail of the error
func (e *InstallError) Error() string {
	text, ok := errorTexts[e.Kind]
	if !ok {
		text = errorTexts[KindUnexpected]
	}

	var b strings.Builder
	b.WriteString(text.description)
	b.WriteString("\n\n")
	b.WriteString(text.solution)

	detail := strings.TrimSpace(e.Detail)
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if detail != "" {
		fmt.Fprintf(&b, "\n\n%s\n\n%s\n\n%s", detailSeparator, detail, detailSeparator)
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Interface guard for InstallError
var _ error = &InstallError{}

// KindOf returns the kind of the first InstallError in err's chain, or KindUnexpected.
func KindOf(err error) ErrorKind {
	var installErr *InstallError
	if errors.As(err, &installErr) {
		return installErr.Kind
	}
	return KindUnexpected
}

// AsInstallError returns the InstallError in err's chain, wrapping unknown errors as KindUnexpected.
func AsInstallError(err error) *InstallError {
	if err == nil {
		return nil
	}
	var installErr *InstallError
	if errors.As(err, &installErr) {
		return installErr
	}
	return NewInstallError(KindUnexpected, err.Error(), err)
}

// FormatError renders err for the terminal followed by footer lines such as "Platform: linux".
// Unexpected errors also carry the bug report note.
func FormatError(err error, footer ...string) string {
	installErr := AsInstallError(err)

	var b strings.Builder
	b.WriteString(installErr.Error())
	if installErr.Kind == KindUnexpected {
		b.WriteString(BugReportMessage())
	}

	if len(footer) > 0 {
		b.WriteString("\n")
	}
	for _, line := range footer {
		b.WriteString("\n")
		b.WriteString(line)
	}

	return b.String()
}
