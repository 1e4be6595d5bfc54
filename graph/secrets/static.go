package secrets

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticBackend holds secrets in memory. It is loaded from a YAML file for
// local development:
//
//	tenants:
//	  acme:
//	    OPENAI_API_KEY: sk-...
//	    ANTHROPIC_API_KEY: sk-ant-...
type StaticBackend struct {
	tenants map[string]map[string]string
}

type staticFile struct {
	Tenants map[string]map[string]string `yaml:"tenants"`
}

// NewStaticBackend copies tenants into a new backend.
func NewStaticBackend(tenants map[string]map[string]string) *StaticBackend {
	b := &StaticBackend{tenants: make(map[string]map[string]string, len(tenants))}
	for tenant, kv := range tenants {
		cp := make(map[string]string, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		b.tenants[tenant] = cp
	}
	return b
}

// LoadStaticFile reads a YAML secrets file.
func LoadStaticFile(path string) (*StaticBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return NewStaticBackend(f.Tenants), nil
}

// Lookup implements Backend.
func (b *StaticBackend) Lookup(_ context.Context, tenantID, name string) (string, error) {
	v, ok := b.tenants[tenantID][name]
	if !ok || v == "" {
		return "", ErrSecretNotFound
	}
	return v, nil
}
