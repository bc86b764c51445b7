package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallError_Error(t *testing.T) {
	err := NewInstallError(KindDownloadFailed, "URL: https://download.cypress.io/desktop/1.0.0\n404 - Not Found", nil)

	msg := err.Error()
	assert.Contains(t, msg, "The Cypress App could not be downloaded.")
	assert.Contains(t, msg, "Please check network connectivity")
	assert.Contains(t, msg, "404 - Not Found")
	assert.Contains(t, msg, detailSeparator)
}

func TestInstallError_DetailFallsBackToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInstallError(KindDownloadFailed, "", cause)

	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestInstallError_NoDetail(t *testing.T) {
	err := NewInstallError(KindMissingExecutable, "", nil)
	assert.NotContains(t, err.Error(), detailSeparator)
}

func TestInstallError_UnknownKind(t *testing.T) {
	err := NewInstallError(ErrorKind("bogus"), "", nil)
	assert.Contains(t, err.Error(), "An unexpected error occurred.")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "direct",
			err:  NewInstallError(KindSmokeTestFailed, "", nil),
			want: KindSmokeTestFailed,
		},
		{
			name: "wrapped",
			err:  fmt.Errorf("failed to verify: %w", NewInstallError(KindVirtualDisplayFailed, "", nil)),
			want: KindVirtualDisplayFailed,
		},
		{
			name: "plain",
			err:  errors.New("boom"),
			want: KindUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAsInstallError(t *testing.T) {
	assert.Nil(t, AsInstallError(nil))

	known := NewInstallError(KindUnsupportedPlatform, "Platform: \"plan9\" is not supported.", nil)
	assert.Same(t, known, AsInstallError(fmt.Errorf("outer: %w", known)))

	plain := errors.New("disk full")
	wrapped := AsInstallError(plain)
	require.NotNil(t, wrapped)
	assert.Equal(t, KindUnexpected, wrapped.Kind)
	assert.ErrorIs(t, wrapped, plain)
}

func TestFormatError(t *testing.T) {
	err := NewInstallError(KindMissingExecutable, "Cypress executable not found at: /tmp/Cypress", nil)

	msg := FormatError(err, "Platform: linux (ubuntu 22.04)", "Cypress Version: 13.6.0")
	assert.Contains(t, msg, "No version of Cypress is installed.")
	assert.Contains(t, msg, "\n\nPlatform: linux (ubuntu 22.04)\nCypress Version: 13.6.0")

	assert.Equal(t, err.Error(), FormatError(err))
	assert.NotContains(t, msg, IssuesLink)

	unexpected := FormatError(errors.New("boom"))
	assert.Contains(t, unexpected, "An unexpected error occurred.")
	assert.Contains(t, unexpected, "boom")
	assert.Contains(t, unexpected, IssuesLink)
}
