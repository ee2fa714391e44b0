package storage

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AdapterConfig selects and configures one backend.
type AdapterConfig struct {
	Backend     string
	Relay       RelayConfig
	ObjectStore ObjectStoreConfig
}

// New creates the adapter named by cfg.Backend.
func New(cfg AdapterConfig, logger zerolog.Logger) (Adapter, error) {
	switch cfg.Backend {
	case BackendRelay:
		if cfg.Relay.SiteToken == "" || cfg.Relay.SiteID == "" {
			return nil, unauthenticated("relay", "site token and site id are required")
		}
		if err := cfg.Relay.Validate(); err != nil {
			return nil, err
		}
		return NewRelayAdapter(cfg.Relay, logger), nil
	case BackendS3:
		return NewObjectStoreAdapter(cfg.ObjectStore, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
