package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig configures a VaultBackend.
type VaultConfig struct {
	Address   string        `mapstructure:"address"`
	Token     string        `mapstructure:"token"`
	Namespace string        `mapstructure:"namespace"`
	Mount     string        `mapstructure:"mount"`
	Prefix    string        `mapstructure:"prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// VaultBackend reads secrets from a KV v2 engine. Each secret lives at
// <mount>/data/<prefix>/<tenant>/<NAME> and stores its value in the "value"
// field.
type VaultBackend struct {
	kv     *vault.KVv2
	prefix string
}

// NewVaultBackend connects to Vault. Mount defaults to "secret" and Prefix to
// "agentgraph".
func NewVaultBackend(cfg VaultConfig) (*VaultBackend, error) {
	vc := vault.DefaultConfig()
	if vc.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vc.Error)
	}
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		vc.Timeout = cfg.Timeout
	}

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentgraph"
	}
	return &VaultBackend{kv: client.KVv2(mount), prefix: prefix}, nil
}

// Lookup implements Backend.
func (b *VaultBackend) Lookup(ctx context.Context, tenantID, name string) (string, error) {
	secret, err := b.kv.Get(ctx, path.Join(b.prefix, tenantID, name))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vault read: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	v, ok := secret.Data["value"].(string)
	if !ok || v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}
