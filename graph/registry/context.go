package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/agentgraph/graph/secrets"
)

// AuthMethod is how the principal authenticated.
type AuthMethod string

const (
	// AuthSession is an interactive, session-authenticated tenant.
	AuthSession AuthMethod = "session"

	// AuthAPIKey is a programmatic caller using a platform API key.
	AuthAPIKey AuthMethod = "api_key"
)

// Principal identifies the tenant a run executes for.
type Principal struct {
	TenantID string
	Auth     AuthMethod
}

// ExecutionContext is the per-request bundle of tenant identity and
// credential sources. It is established once per request and carried in the
// context.Context; nothing about it is global.
type ExecutionContext struct {
	Principal *Principal

	// Secrets resolves the tenant's own provider keys for shared mode.
	Secrets secrets.Resolver

	// APIKeys are explicit per-provider keys for byok mode, keyed by
	// provider name.
	APIKeys map[string]string

	// UserModels lists the model names the tenant has enabled, keyed by
	// provider name.
	UserModels map[string][]string
}

// ErrNoExecutionContext is returned when a model is resolved outside of an
// established execution context.
var ErrNoExecutionContext = errors.New("no execution context")

// ErrInvalidExecutionContext is returned for contexts missing a principal or
// enabled models.
var ErrInvalidExecutionContext = errors.New("invalid execution context")

// Validate reports whether ec carries the required fields.
func (ec *ExecutionContext) Validate() error {
	switch {
	case ec.Principal == nil:
		return fmt.Errorf("%w: missing principal", ErrInvalidExecutionContext)
	case ec.Principal.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", ErrInvalidExecutionContext)
	case ec.UserModels == nil:
		return fmt.Errorf("%w: missing user models", ErrInvalidExecutionContext)
	}
	return nil
}

type ctxKey struct{}

// WithExecutionContext returns a copy of ctx carrying ec.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ec)
}

// FromContext returns the validated execution context carried by ctx.
func FromContext(ctx context.Context) (*ExecutionContext, error) {
	ec, ok := ctx.Value(ctxKey{}).(*ExecutionContext)
	if !ok || ec == nil {
		return nil, ErrNoExecutionContext
	}
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	return ec, nil
}
