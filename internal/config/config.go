// Package config provides configuration management for cyinstall, including
// loading configuration with precedence, CYPRESS_* environment variable overrides,
// and validation of the effective values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dorcha-inc/cyinstall/internal/core"
)

const (
	EnvPrefix                      = "CYPRESS"
	DefaultDownloadBaseURL         = "https://download.cypress.io/"
	DefaultProgressThrottleMs      = 100
	DefaultSmokeTestTimeoutSeconds = 60
	DefaultStateDirName            = ".cyinstall"
	UserConfigFileName             = "config.yaml"
	ProjectConfigFileName          = "cyinstall.yaml"
)

// UserHomeDir and UserCacheDir are variables so tests can point them at a temp directory.
var (
	UserHomeDir  = os.UserHomeDir
	UserCacheDir = os.UserCacheDir
)

type LogFormat string

const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Config is the effective configuration passed into the installer and verifier.
// Nothing below the command layer reads the process environment directly.
type Config struct {
	BinaryVersion           string    `yaml:"binary_version,omitempty" mapstructure:"binary_version"`                                // overrides the version to install
	CacheDirectory          string    `yaml:"cache_directory" mapstructure:"cache_directory" validate:"required"`                    // root of the version-namespaced cache
	SkipBinaryInstall       string    `yaml:"skip_binary_install,omitempty" mapstructure:"skip_binary_install"`                      // any value other than "", "0" or "false" skips installation
	DownloadBaseURL         string    `yaml:"download_base_url" mapstructure:"download_base_url" validate:"required,url"`            // base of the download endpoint
	StateDir                string    `yaml:"state_dir" mapstructure:"state_dir" validate:"required"`                                // directory holding the install record
	ProgressThrottleMs      int       `yaml:"progress_throttle_ms" mapstructure:"progress_throttle_ms" validate:"min=0"`             // download progress interval
	SmokeTestTimeoutSeconds int       `yaml:"smoke_test_timeout_seconds" mapstructure:"smoke_test_timeout_seconds" validate:"min=1"` // smoke test deadline
	LogFormat               LogFormat `yaml:"log_format,omitempty" mapstructure:"log_format" validate:"omitempty,oneof=pretty json"` // "pretty" or "json"
	LogLevel                string    `yaml:"log_level,omitempty" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error fatal"`
}

// ShouldSkipBinaryInstall reports whether skip_binary_install is set to a truthy value.
func (cfg *Config) ShouldSkipBinaryInstall() bool {
	switch strings.ToLower(strings.TrimSpace(cfg.SkipBinaryInstall)) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

func (cfg *Config) ProgressThrottle() time.Duration {
	return time.Duration(cfg.ProgressThrottleMs) * time.Millisecond
}

func (cfg *Config) SmokeTestTimeout() time.Duration {
	return time.Duration(cfg.SmokeTestTimeoutSeconds) * time.Second
}

// ConfigValue represents a configuration value with its source
type ConfigValue struct {
	Value  any
	Source string // "env", "project", "user", or "default"
}

// GetStateDir returns the default state directory (~/.cyinstall)
func GetStateDir() (string, error) {
	home, err := UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, DefaultStateDirName), nil
}

// GetDefaultCacheDirectory returns <user cache dir>/Cypress, falling back to ~/.cache/Cypress
func GetDefaultCacheDirectory() (string, error) {
	cacheRoot, err := UserCacheDir()
	if err == nil && cacheRoot != "" {
		return filepath.Join(cacheRoot, core.ProductName), nil
	}

	home, homeErr := UserHomeDir()
	if homeErr != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", homeErr)
	}
	return filepath.Join(home, ".cache", core.ProductName), nil
}

// GetUserConfigPath returns the path to the user-specific config file (~/.cyinstall/config.yaml)
func GetUserConfigPath() (string, error) {
	stateDir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, UserConfigFileName), nil
}

// GetProjectConfigPath returns the path to the project-specific config file (./cyinstall.yaml)
// relative to the current working directory
func GetProjectConfigPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return filepath.Join(cwd, ProjectConfigFileName), nil
}

// setupViper configures Viper with defaults, config file locations, and environment variables
// If configPath is provided (non-empty), loads from that specific path instead of using precedence
func setupViper(configPath string) error {
	viper.Reset()
	if err := setViperDefaults(); err != nil {
		return err
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	// user config first, then project config merged over it
	userPath, userErr := GetUserConfigPath()
	if userErr == nil {
		if _, userStatErr := os.Stat(userPath); userStatErr == nil {
			viper.SetConfigFile(userPath)
			if userReadErr := viper.ReadInConfig(); userReadErr != nil {
				zap.L().Debug("Failed to read user config file", zap.String("path", userPath), zap.Error(userReadErr))
			}
		}
	}

	projectPath, projectErr := GetProjectConfigPath()
	if projectErr == nil {
		if _, projectStatErr := os.Stat(projectPath); projectStatErr == nil {
			viper.SetConfigFile(projectPath)
			if projectReadErr := viper.MergeInConfig(); projectReadErr != nil {
				zap.L().Debug("Failed to merge project config file", zap.String("path", projectPath), zap.Error(projectReadErr))
			}
		}
	}

	return nil
}

// setViperDefaults sets default values in Viper. Every key gets a default so
// AutomaticEnv picks it up during Unmarshal.
func setViperDefaults() error {
	cacheDir, err := GetDefaultCacheDirectory()
	if err != nil {
		return err
	}
	stateDir, err := GetStateDir()
	if err != nil {
		return err
	}

	viper.SetDefault("binary_version", "")
	viper.SetDefault("cache_directory", cacheDir)
	viper.SetDefault("skip_binary_install", "")
	viper.SetDefault("download_base_url", DefaultDownloadBaseURL)
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("progress_throttle_ms", DefaultProgressThrottleMs)
	viper.SetDefault("smoke_test_timeout_seconds", DefaultSmokeTestTimeoutSeconds)
	viper.SetDefault("log_format", string(LogFormatJSON))
	viper.SetDefault("log_level", "info")
	return nil
}

// LoadConfig loads configuration with precedence: env > project config > user config > defaults
// If configPath is provided, loads from that specific path instead of the config files
func LoadConfig(configPath string) (*Config, error) {
	if err := setupViper(configPath); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := postProcessConfig(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// postProcessConfig expands ~ and resolves relative directories against the working directory
func postProcessConfig(cfg *Config) error {
	cacheDir, err := resolvePath(cfg.CacheDirectory)
	if err != nil {
		return fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	cfg.CacheDirectory = cacheDir

	stateDir, err := resolvePath(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to resolve state directory: %w", err)
	}
	cfg.StateDir = stateDir

	cfg.BinaryVersion = strings.TrimSpace(cfg.BinaryVersion)
	return nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return filepath.Abs(path)
}

var validate = validator.New()

// Validate validates the configuration using its struct tags
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// getValueSource determines the source of a config value
func getValueSource(key string) string {
	envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if os.Getenv(envKey) != "" {
		return "env"
	}

	if isSetInFile(GetProjectConfigPath, key) {
		return "project"
	}

	if isSetInFile(GetUserConfigPath, key) {
		return "user"
	}

	return "default"
}

func isSetInFile(pathFn func() (string, error), key string) bool {
	path, err := pathFn()
	if err != nil {
		return false
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return false
	}

	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	if readErr := fileViper.ReadInConfig(); readErr != nil {
		return false
	}
	return fileViper.IsSet(key)
}

// ListConfig returns all configuration keys and values with their sources
func ListConfig(configPath string) (map[string]*ConfigValue, error) {
	if err := setupViper(configPath); err != nil {
		return nil, err
	}

	result := make(map[string]*ConfigValue)
	for _, key := range viper.AllKeys() {
		source := getValueSource(key)
		if configPath != "" && source != "env" && viper.InConfig(key) {
			source = "file"
		}
		result[key] = &ConfigValue{Value: viper.Get(key), Source: source}
	}

	return result, nil
}

// Dump renders the configuration as YAML
func Dump(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}
