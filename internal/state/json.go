package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// readJSONObject reads a JSON object from path. A missing file or invalid
// JSON yields an empty object.
func readJSONObject(path string) map[string]any {
	// #nosec G304 -- path is derived from the configured state and cache directories
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.L().Debug("Could not read state file", zap.String("path", path), zap.Error(err))
		}
		return map[string]any{}
	}

	var contents map[string]any
	if err := json.Unmarshal(data, &contents); err != nil || contents == nil {
		zap.L().Debug("Could not parse state file", zap.String("path", path), zap.Error(err))
		return map[string]any{}
	}

	return contents
}

// writeJSONObject writes contents to path with 2-space indentation, creating parent directories
func writeJSONObject(path string, contents map[string]any) error {
	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	// #nosec G301 -- state directory permissions 0755 are acceptable
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}

	// #nosec G306 -- state file permissions 0644 are acceptable
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	zap.L().Debug("Wrote state file", zap.String("path", path))
	return nil
}

// updateJSONObject applies update to the object stored at path and writes it back.
// Keys update does not touch are preserved.
func updateJSONObject(path string, update func(contents map[string]any)) error {
	contents := readJSONObject(path)
	update(contents)
	return writeJSONObject(path, contents)
}

func stringField(contents map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := contents[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
