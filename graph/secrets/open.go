package secrets

import (
	"context"
	"fmt"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "static", "vault" or "aws".
	Backend  string        `mapstructure:"backend"`
	File     string        `mapstructure:"file"`
	Vault    VaultConfig   `mapstructure:"vault"`
	AWS      AWSConfig     `mapstructure:"aws"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Open builds the backend described by cfg. Remote backends are wrapped in a
// CachedBackend when CacheTTL is positive.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case "", "static":
		if cfg.File == "" {
			return NewStaticBackend(nil), nil
		}
		return LoadStaticFile(cfg.File)
	case "vault":
		b, err = NewVaultBackend(cfg.Vault)
	case "aws":
		b, err = NewAWSBackend(ctx, cfg.AWS)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 {
		b = NewCachedBackend(b, cfg.CacheTTL)
	}
	return b, nil
}
