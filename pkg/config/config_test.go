package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/driftfs/pkg/naming"
)

// writeConfigFile marshals a fixture to YAML and writes it where Load
// can find it.
func writeConfigFile(t *testing.T, fixture map[string]any) string {
	t.Helper()

	data, err := yaml.Marshal(fixture)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultLogOutput, cfg.Logging.Output)
	assert.Equal(t, ":6000", cfg.Naming.ServiceAddr)
	assert.Equal(t, ":6001", cfg.Naming.RegistrationAddr)
	assert.Equal(t, DefaultPlacementType, cfg.Naming.Placement.Type)
	assert.Equal(t, DefaultStorageRoot, cfg.Storage.Root)
	assert.Equal(t, DefaultStorageHostname, cfg.Storage.Hostname)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{
			"level": "DEBUG",
		},
		"naming": map[string]any{
			"service_addr": ":7000",
			"placement": map[string]any{
				"type": "random",
				"random": map[string]any{
					"seed": 42,
				},
			},
		},
		"storage": map[string]any{
			"root":        "/srv/driftfs",
			"hostname":    "storage1.example.com",
			"naming_addr": "naming.example.com:6001",
		},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format, "unset fields fall back to defaults")
	assert.Equal(t, ":7000", cfg.Naming.ServiceAddr)
	assert.Equal(t, ":6001", cfg.Naming.RegistrationAddr)
	assert.Equal(t, "random", cfg.Naming.Placement.Type)
	assert.Equal(t, "/srv/driftfs", cfg.Storage.Root)
	assert.Equal(t, "storage1.example.com", cfg.Storage.Hostname)
	assert.Equal(t, "naming.example.com:6001", cfg.Storage.NamingAddr)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("DRIFTFS_LOGGING_LEVEL", "ERROR")

	// Environment variables take precedence over the config file.
	path := writeConfigFile(t, map[string]any{
		"logging": map[string]any{
			"level": "INFO",
		},
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{
			name:   "unknown log level",
			mutate: func(cfg *Config) { cfg.Logging.Level = "LOUD" },
		},
		{
			name:   "unknown log format",
			mutate: func(cfg *Config) { cfg.Logging.Format = "xml" },
		},
		{
			name:   "unknown placement type",
			mutate: func(cfg *Config) { cfg.Naming.Placement.Type = "fastest" },
		},
		{
			name:   "missing storage root",
			mutate: func(cfg *Config) { cfg.Storage.Root = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)
			assert.Error(t, Validate(&cfg))
		})
	}
}

func TestNewPlacement(t *testing.T) {
	roundRobin, err := NewPlacement(&NamingConfig{
		Placement: PlacementConfig{Type: "round-robin"},
	})
	require.NoError(t, err)
	assert.IsType(t, &naming.RoundRobinPlacement{}, roundRobin)

	random, err := NewPlacement(&NamingConfig{
		Placement: PlacementConfig{
			Type:   "random",
			Random: map[string]any{"seed": int64(42)},
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &naming.RandomPlacement{}, random)

	_, err = NewPlacement(&NamingConfig{
		Placement: PlacementConfig{Type: "fastest"},
	})
	assert.Error(t, err)
}

func TestNewNamingServerFromConfig(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Naming.ServiceAddr = "127.0.0.1:0"
	cfg.Naming.RegistrationAddr = "127.0.0.1:0"

	server, err := NewNamingServer(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, server)
}

func TestNewStorageServerFromConfig(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Storage.Root = t.TempDir()

	server, err := NewStorageServer(&cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.Root, server.Root())

	registrar, err := NewRegistrar(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, registrar)
}
