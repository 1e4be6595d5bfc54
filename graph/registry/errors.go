package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/agentgraph/graph/invoke"
)

// ErrNoEnabledModels is returned when the tenant has no enabled model for
// any provider the workflow requires.
var ErrNoEnabledModels = errors.New("no enabled models")

// ConfigError is a caller or catalog configuration mistake.
type ConfigError struct {
	// Message is shown to the caller as is.
	Message string
}

// Error returns Message.
func (e *ConfigError) Error() string { return e.Message }

// ErrorCategory implements invoke.Categorized.
func (e *ConfigError) ErrorCategory() invoke.Category { return invoke.CategoryValidation }

// MissingCredentialsError names the providers a tenant has no key for.
type MissingCredentialsError struct {
	TenantID string

	// Providers lists the keyless providers, sorted.
	Providers []string
}

// Error names the providers and the secret each one needs, e.g.
// "Missing API key for openai: add OPENAI_API_KEY in your provider settings".
func (e *MissingCredentialsError) Error() string {
	names := make([]string, len(e.Providers))
	for i, p := range e.Providers {
		names[i] = SecretName(p)
	}
	return fmt.Sprintf("Missing API key for %s: add %s in your provider settings",
		strings.Join(e.Providers, ", "), strings.Join(names, ", "))
}

// ErrorCategory implements invoke.Categorized.
func (e *MissingCredentialsError) ErrorCategory() invoke.Category { return invoke.CategoryAuth }
