package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/driftfs/pkg/naming"
	"github.com/marmos91/driftfs/pkg/storage"
)

// RandomPlacementConfig is the typed form of the placement.random
// section.
type RandomPlacementConfig struct {
	// Seed seeds the random generator; zero seeds from the clock
	Seed int64 `mapstructure:"seed"`
}

// NewPlacement builds the file placement policy the configuration
// selects. The type-specific section is decoded into its typed
// configuration before the policy is constructed.
func NewPlacement(cfg *NamingConfig) (naming.Placement, error) {
	switch cfg.Placement.Type {
	case "round-robin":
		return naming.NewRoundRobinPlacement(), nil

	case "random":
		var randomCfg RandomPlacementConfig
		if err := mapstructure.Decode(cfg.Placement.Random, &randomCfg); err != nil {
			return nil, fmt.Errorf("failed to decode random placement config: %w", err)
		}
		return naming.NewRandomPlacement(randomCfg.Seed), nil

	default:
		return nil, fmt.Errorf("unknown placement type: %s", cfg.Placement.Type)
	}
}

// NewNamingServer builds a naming server from the configuration.
func NewNamingServer(cfg *Config) (*naming.Server, error) {
	placement, err := NewPlacement(&cfg.Naming)
	if err != nil {
		return nil, err
	}
	return naming.NewServerAt(cfg.Naming.ServiceAddr, cfg.Naming.RegistrationAddr, placement)
}

// NewStorageServer builds a storage server from the configuration. The
// server is not started and not yet registered.
func NewStorageServer(cfg *Config) (*storage.Server, error) {
	return storage.NewServerAt(cfg.Storage.Root, cfg.Storage.StorageAddr, cfg.Storage.CommandAddr)
}

// NewRegistrar builds the registration client a storage server uses to
// reach the naming server.
func NewRegistrar(cfg *Config) (*naming.RegistrationClient, error) {
	return naming.NewRegistrationClient(cfg.Storage.NamingAddr)
}
