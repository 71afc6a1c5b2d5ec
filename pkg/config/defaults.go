package config

import (
	"strconv"

	"github.com/marmos91/driftfs/pkg/naming"
)

// Default values applied to any configuration field left unset.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultPlacementType = "round-robin"

	DefaultStorageRoot     = "/var/lib/driftfs"
	DefaultStorageHostname = "localhost"
)

// ApplyDefaults fills in defaults for any missing configuration values.
// Explicitly set values are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Naming.ServiceAddr == "" {
		cfg.Naming.ServiceAddr = ":" + strconv.Itoa(naming.ServicePort)
	}
	if cfg.Naming.RegistrationAddr == "" {
		cfg.Naming.RegistrationAddr = ":" + strconv.Itoa(naming.RegistrationPort)
	}
	if cfg.Naming.Placement.Type == "" {
		cfg.Naming.Placement.Type = DefaultPlacementType
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if cfg.Storage.Hostname == "" {
		cfg.Storage.Hostname = DefaultStorageHostname
	}
	if cfg.Storage.NamingAddr == "" {
		cfg.Storage.NamingAddr = DefaultStorageHostname + ":" + strconv.Itoa(naming.RegistrationPort)
	}
}
