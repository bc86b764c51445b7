// Package platform maps Go's OS and architecture identifiers onto the ones the
// download service uses and resolves executable locations inside an install tree.
package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/agnivade/levenshtein"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/shirou/gopsutil/v4/host"
	"go.uber.org/zap"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

// OS identifiers as understood by the download service
const (
	Darwin = "darwin"
	Linux  = "linux"
	Win32  = "win32"
)

var supported = mapset.NewSet(Darwin, Linux, Win32)

// IsSupported reports whether os is a known platform identifier
func IsSupported(os string) bool {
	return supported.Contains(os)
}

// FromGOOS converts a GOOS value to a platform identifier
func FromGOOS(goos string) string {
	if goos == core.GOOSWindows {
		return Win32
	}
	return goos
}

// Current returns the platform identifier of the running process
func Current() string {
	return FromGOOS(runtime.GOOS)
}

var archNames = map[string]string{
	"amd64": "x64",
	"386":   "ia32",
	"arm64": "arm64",
	"arm":   "arm",
}

// Arch converts a GOARCH value to the download service's name, passing unknown values through.
func Arch(goarch string) string {
	if name, ok := archNames[goarch]; ok {
		return name
	}
	return goarch
}

// CurrentArch returns the architecture name of the running process
func CurrentArch() string {
	return Arch(runtime.GOARCH)
}

// ExecutableSubpath returns the path of the executable relative to the install directory
func ExecutableSubpath(os string) (string, error) {
	switch os {
	case Darwin:
		return filepath.Join(core.ProductName+".app", "Contents", "MacOS", core.ProductName), nil
	case Linux:
		return filepath.Join(core.ProductName, core.ProductName), nil
	case Win32:
		return filepath.Join(core.ProductName, core.ProductName+".exe"), nil
	default:
		return "", unsupportedPlatformError(os)
	}
}

// ExecutablePath returns the full path of the executable inside installDir
func ExecutablePath(os, installDir string) (string, error) {
	subpath, err := ExecutableSubpath(os)
	if err != nil {
		return "", err
	}
	return filepath.Join(installDir, subpath), nil
}

// ExecutableDir returns the top-level directory of the extracted application inside installDir
func ExecutableDir(os, installDir string) (string, error) {
	subpath, err := ExecutableSubpath(os)
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(filepath.ToSlash(subpath), "/")
	return filepath.Join(installDir, first), nil
}

func unsupportedPlatformError(os string) error {
	detail := fmt.Sprintf("Platform: %q is not supported.", os)
	if suggestion := suggestPlatform(os); suggestion != "" {
		detail += fmt.Sprintf(" Did you mean %q?", suggestion)
	}
	return core.NewInstallError(core.KindUnsupportedPlatform, detail, nil)
}

// suggestPlatform returns the closest supported identifier within an edit distance of 2
func suggestPlatform(os string) string {
	best := ""
	bestDistance := 3

	lower := strings.ToLower(os)
	for _, candidate := range supported.ToSlice() {
		distance := levenshtein.ComputeDistance(lower, candidate)
		if distance < bestDistance || (distance == bestDistance && candidate < best) {
			bestDistance = distance
			best = candidate
		}
	}

	return best
}

var (
	platformInformation = host.PlatformInformationWithContext
	kernelVersion       = host.KernelVersionWithContext
)

// Release returns a human readable description of the OS release, such as "ubuntu - 22.04".
// It never fails: detection errors fall back to the kernel version and finally to "unknown".
func Release(ctx context.Context) string {
	name, _, version, err := platformInformation(ctx)
	if err == nil && name != "" {
		if version == "" {
			return name
		}
		return fmt.Sprintf("%s - %s", name, version)
	}
	if err != nil {
		zap.L().Debug("Failed to detect platform information", zap.Error(err))
	}

	kernel, err := kernelVersion(ctx)
	if err == nil && kernel != "" {
		return kernel
	}

	return "unknown"
}
