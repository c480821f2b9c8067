package jwtkeys

import (
	"context"
	"time"

	"github.com/carpoolhq/backend/pkg/config"
)

// NewManagerFromConfig builds a Manager using the shared JWT configuration.
// When a Vault address/path are configured the signing-key set is stored
// there instead of the local key file, so a fleet of stateless instances
// shares one rotating key set.
func NewManagerFromConfig(ctx context.Context, cfg config.JWTConfig, readOnly bool) (*Manager, error) {
	managerCfg := Config{
		KeyFilePath:      cfg.KeyFile,
		RotationInterval: time.Duration(cfg.RotationHours) * time.Hour,
		GracePeriod:      time.Duration(cfg.GraceHours) * time.Hour,
		LegacySecret:     cfg.Secret,
		ReadOnly:         readOnly,
	}

	if cfg.VaultAddress != "" && cfg.VaultPath != "" {
		store, err := newVaultStore(cfg.VaultAddress, cfg.VaultToken, cfg.VaultNamespace, cfg.VaultPath)
		if err != nil {
			return nil, err
		}
		managerCfg.Store = store
	}

	return NewManager(ctx, managerCfg)
}
