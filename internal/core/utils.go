package core

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// MustFprintf is a wrapper around fmt.Fprintf that exits the program if it fails.
func MustFprintf(w io.Writer, format string, a ...any) {
	_, err := fmt.Fprintf(w, format, a...)
	if err != nil {
		zap.L().Fatal("Failed to fprintf", zap.Error(err), zap.String("format", format), zap.Any("a", a))
	}
}

// JoinMapKeys joins the keys of a map into a sorted, comma-separated string.
// Useful for error messages that need to list valid values.
func JoinMapKeys[T comparable](m map[T]struct{}) string {
	keys := slices.Collect(maps.Keys(m))
	sliceStrings := make([]string, len(keys))
	for i, k := range keys {
		sliceStrings[i] = fmt.Sprintf("%v", k)
	}
	slices.Sort(sliceStrings)
	return strings.Join(sliceStrings, ", ")
}

// LogDeferredError runs fn and logs its error, if any. Meant for deferred Close calls.
func LogDeferredError(fn func() error) {
	if err := fn(); err != nil {
		zap.L().Debug("Deferred call failed", zap.Error(err))
	}
}
