package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/logging"
)

// Configurator persists panel configuration and delivers it to the panel
// when it is connected.
type Configurator struct {
	store       CredentialStore
	broadcaster *Broadcaster
	logger      *logging.Logger
}

// NewConfigurator creates a Configurator.
func NewConfigurator(store CredentialStore, broadcaster *Broadcaster, logger *logging.Logger) *Configurator {
	return &Configurator{store: store, broadcaster: broadcaster, logger: logger}
}

// Update stores config for installationID and pushes it to the live
// session. delivered is false when the panel is offline; it receives the
// stored configuration on its next connection.
func (c *Configurator) Update(ctx context.Context, installationID, config string) (delivered bool, err error) {
	if err := c.store.UpdateConfiguration(ctx, installationID, config); err != nil {
		return false, fmt.Errorf("storing configuration: %w", err)
	}

	err = c.broadcaster.Push(ctx, installationID, config)
	switch {
	case err == nil:
		c.logger.Info("configuration pushed", "installation_id", installationID)
		return true, nil
	case errors.Is(err, ErrSessionNotFound):
		c.logger.Info("configuration stored for offline panel", "installation_id", installationID)
		return false, nil
	default:
		c.logger.Warn("configuration push failed", "installation_id", installationID, "error", err)
		return false, nil
	}
}
