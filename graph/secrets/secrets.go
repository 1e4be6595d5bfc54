// Package secrets resolves per-tenant provider credentials from a lockbox.
//
// A Backend stores secrets for many tenants. ForTenant binds a backend to a
// single tenant and returns the Resolver handed to the model registry, so a
// resolver can never read another tenant's secrets. Secret values never come
// from process environment variables.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrSecretNotFound is returned by backends when a tenant has no secret with
// the requested name.
var ErrSecretNotFound = errors.New("secret not found")

// ErrInvalidName is returned for tenant ids or secret names that cannot be
// used as lockbox path segments.
var ErrInvalidName = errors.New("invalid secret or tenant name")

var (
	secretNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	tenantIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Resolver resolves secrets for one tenant.
type Resolver interface {
	// Get returns the named secret. ok is false when the tenant has no such
	// secret; err is reserved for lockbox failures.
	Get(ctx context.Context, name string) (value string, ok bool, err error)

	// GetAll returns the subset of names the tenant has secrets for.
	GetAll(ctx context.Context, names []string) (map[string]string, error)
}

// Backend is a multi-tenant lockbox.
type Backend interface {
	// Lookup returns ErrSecretNotFound when the secret does not exist.
	Lookup(ctx context.Context, tenantID, name string) (string, error)
}

// DefaultConcurrency bounds parallel lookups in GetAll.
const DefaultConcurrency = 4

// ForTenant returns a Resolver reading tenantID's secrets from b.
//
// Example usage:
//
//	backend, err := secrets.Open(ctx, cfg.Secrets)
//	if err != nil {
//	    return err
//	}
//	keys, err := secrets.ForTenant(backend, "acme").GetAll(ctx, []string{"OPENAI_API_KEY"})
func ForTenant(b Backend, tenantID string) Resolver {
	return &tenantResolver{backend: b, tenantID: tenantID, concurrency: DefaultConcurrency}
}

type tenantResolver struct {
	backend     Backend
	tenantID    string
	concurrency int
}

// Get implements Resolver. Names and tenant ids that are not valid path
// segments fail with ErrInvalidName before the backend is consulted.
func (r *tenantResolver) Get(ctx context.Context, name string) (string, bool, error) {
	if err := validate(r.tenantID, name); err != nil {
		return "", false, err
	}
	v, err := r.backend.Lookup(ctx, r.tenantID, name)
	if errors.Is(err, ErrSecretNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s for tenant %s: %w", name, r.tenantID, err)
	}
	return v, true, nil
}

// GetAll fetches names concurrently. Missing secrets are omitted from the
// result; the first lockbox failure cancels the remaining lookups.
func (r *tenantResolver) GetAll(ctx context.Context, names []string) (map[string]string, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(names))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, name := range dedupe(names) {
		g.Go(func() error {
			v, ok, err := r.Get(gctx, name)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			out[name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func validate(tenantID, name string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: tenant %q", ErrInvalidName, tenantID)
	}
	if !secretNamePattern.MatchString(name) {
		return fmt.Errorf("%w: secret %q", ErrInvalidName, name)
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// MapResolver is a Resolver over a fixed map, for callers that already hold
// a tenant's keys and for tests.
type MapResolver map[string]string

// Get implements Resolver.
func (m MapResolver) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := m[name]
	return v, ok && v != "", nil
}

// GetAll implements Resolver.
func (m MapResolver) GetAll(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok, _ := m.Get(ctx, n); ok {
			out[n] = v
		}
	}
	return out, nil
}
