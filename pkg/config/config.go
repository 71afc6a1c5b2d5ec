// Package config loads and validates the driftfs configuration for both
// the naming and storage daemons.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (DRIFTFS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete driftfs configuration. Each daemon reads its
// own section; the logging section is shared.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Naming contains the naming server settings
	Naming NamingConfig `mapstructure:"naming"`

	// Storage contains the storage server settings
	Storage StorageConfig `mapstructure:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (all upper or all lower case)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// NamingConfig contains the naming server settings.
type NamingConfig struct {
	// ServiceAddr is the listen address of the client-facing service
	// interface, a well-known endpoint
	ServiceAddr string `mapstructure:"service_addr" validate:"required"`

	// RegistrationAddr is the listen address of the registration
	// interface storage servers connect to, a well-known endpoint
	RegistrationAddr string `mapstructure:"registration_addr" validate:"required"`

	// Placement selects the file placement policy
	Placement PlacementConfig `mapstructure:"placement"`
}

// PlacementConfig selects which storage server hosts a newly created
// file. The Type field determines the policy; only the matching
// type-specific section is used.
type PlacementConfig struct {
	// Type specifies the placement policy
	// Valid values: round-robin, random
	Type string `mapstructure:"type" validate:"required,oneof=round-robin random"`

	// Random contains random-policy configuration
	// Only used when Type = "random"
	Random map[string]any `mapstructure:"random"`
}

// StorageConfig contains the storage server settings.
type StorageConfig struct {
	// Root is the local directory whose contents the storage server
	// makes accessible
	Root string `mapstructure:"root" validate:"required"`

	// Hostname is the externally routable name of this host, carried by
	// the stubs handed to the naming server
	Hostname string `mapstructure:"hostname" validate:"required"`

	// NamingAddr is the address of the naming server's registration
	// interface
	NamingAddr string `mapstructure:"naming_addr" validate:"required"`

	// StorageAddr fixes the data interface listen address; empty lets
	// the system choose a free port
	StorageAddr string `mapstructure:"storage_addr"`

	// CommandAddr fixes the command interface listen address; empty
	// lets the system choose a free port
	CommandAddr string `mapstructure:"command_addr"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default
//     location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable support and the config
// file search.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DRIFTFS_ prefix and underscores.
	// Example: DRIFTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path. XDG_CONFIG_HOME
// is honored when set; otherwise ~/.config is used, falling back to the
// current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "driftfs")
}
