// Package registry resolves model references into invocable handles bound to
// one tenant's credentials.
//
// A Registry is stateless and may be shared. Resolve reads the
// ExecutionContext from the request context, checks which models the tenant
// has enabled, collects the provider keys the workflow needs and returns a
// Bound resolver that owns copies of those keys. Handles built by a Bound
// resolver can only ever use its tenant's keys.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph/invoke"
)

// Mode selects where provider keys come from.
type Mode string

const (
	// ModeShared uses the tenant's keys from the secret resolver.
	ModeShared Mode = "shared"

	// ModeBYOK uses only the keys supplied in ExecutionContext.APIKeys.
	ModeBYOK Mode = "byok"
)

// Registry builds per-run Bound resolvers.
//
// Thread-safety: a Registry holds no tenant state and is safe to share
// across requests and tenants.
type Registry struct {
	catalog *Catalog
	factory Factory
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory overrides how chat models are constructed.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry over catalog. A nil catalog uses DefaultCatalog.
func New(catalog *Catalog, opts ...Option) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Registry{catalog: catalog, factory: DefaultFactory, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the registry's catalog.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Resolve binds the models named by refs to the tenant in ctx.
//
// Models the tenant has not enabled are replaced by another enabled model of
// the same provider; providers with no enabled model are dropped. For
// session principals every remaining provider must have a key or Resolve
// fails with *MissingCredentialsError. API key principals get that error
// from Bound.Resolve only when a keyless provider is actually called.
//
// Parameters:
//   - ctx: must carry an ExecutionContext (see WithExecutionContext)
//   - mode: ModeShared reads keys from ExecutionContext.Secrets, ModeBYOK
//     from ExecutionContext.APIKeys
//   - refs: tier names or "provider/model" ids the workflow uses
//
// Returns:
//   - ErrNoExecutionContext or ErrInvalidExecutionContext for a bad ctx
//   - *ConfigError for unknown refs or an unknown mode
//   - ErrNoEnabledModels when no required provider has an enabled model
//   - *MissingCredentialsError as described above
//
// Example usage:
//
//	ctx = registry.WithExecutionContext(ctx, &registry.ExecutionContext{
//	    Principal:  &registry.Principal{TenantID: "acme", Auth: registry.AuthSession},
//	    Secrets:    secrets.ForTenant(backend, "acme"),
//	    UserModels: map[string][]string{"openai": {"gpt-4o-mini"}},
//	})
//	bound, err := registry.New(nil).Resolve(ctx, registry.ModeShared, []string{"fast"})
//	if err != nil {
//	    return err
//	}
//	exec := invoke.NewExecutor(bound)
func (r *Registry) Resolve(ctx context.Context, mode Mode, refs []string) (*Bound, error) {
	ec, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeShared
	}
	if mode != ModeShared && mode != ModeBYOK {
		return nil, &ConfigError{Message: fmt.Sprintf("unknown key mode %q", mode)}
	}
	if mode == ModeBYOK && len(nonEmpty(ec.APIKeys)) == 0 {
		return nil, &ConfigError{Message: "BYOK mode requires apiKeys"}
	}

	reqs, err := ExtractRequirements(r.catalog, refs)
	if err != nil {
		return nil, err
	}

	b := &Bound{
		registry:      r,
		tenantID:      ec.Principal.TenantID,
		mode:          mode,
		enabled:       copyEnabled(ec.UserModels),
		substitutions: make(map[string]string),
		handles:       make(map[string]invoke.Handle),
	}

	providers := make(map[string]struct{})
	for _, req := range reqs {
		used, ok := b.substitute(req.Provider, req.Model)
		if !ok {
			r.logger.Warn("no enabled models for provider, dropping",
				zap.String("tenant_id", b.tenantID),
				zap.String("provider", req.Provider),
			)
			continue
		}
		providers[req.Provider] = struct{}{}
		if used != req.Model {
			b.substitutions[req.ID()] = req.Provider + "/" + used
			r.logger.Info("model substituted",
				zap.String("tenant_id", b.tenantID),
				zap.String("requested", req.ID()),
				zap.String("used", req.Provider+"/"+used),
			)
		}
	}
	if len(reqs) > 0 && len(providers) == 0 {
		return nil, fmt.Errorf("%w: the workflow requires %s", ErrNoEnabledModels, requirementIDs(reqs))
	}
	b.providers = sortedKeys(providers)

	keys, err := r.collectKeys(ctx, ec, mode, b.providers)
	if err != nil {
		return nil, err
	}
	b.keys = keys

	var missing []string
	for _, p := range b.providers {
		if _, ok := keys[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 && ec.Principal.Auth != AuthAPIKey {
		return nil, &MissingCredentialsError{TenantID: b.tenantID, Providers: missing}
	}
	return b, nil
}

// collectKeys returns the keys for providers, copied out of the execution
// context so the Bound resolver never shares a map with the caller.
func (r *Registry) collectKeys(ctx context.Context, ec *ExecutionContext, mode Mode, providers []string) (map[string]string, error) {
	keys := make(map[string]string, len(providers))
	if mode == ModeBYOK {
		for _, p := range providers {
			if k := ec.APIKeys[p]; k != "" {
				keys[p] = k
			}
		}
		return keys, nil
	}

	if ec.Secrets == nil {
		return keys, nil
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, SecretName(p))
	}
	values, err := ec.Secrets.GetAll(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolve provider keys for tenant %s: %w", ec.Principal.TenantID, err)
	}
	for _, p := range providers {
		if k := values[SecretName(p)]; k != "" {
			keys[p] = k
		}
	}
	return keys, nil
}

// Bound resolves model references for one tenant and one run. It implements
// invoke.Resolver.
type Bound struct {
	registry  *Registry
	tenantID  string
	mode      Mode
	enabled   map[string][]string
	keys      map[string]string
	providers []string

	mu            sync.Mutex
	substitutions map[string]string
	handles       map[string]invoke.Handle
}

// TenantID returns the tenant the resolver is bound to.
func (b *Bound) TenantID() string { return b.tenantID }

// Mode returns the key mode.
func (b *Bound) Mode() Mode { return b.mode }

// Providers returns the providers available to the run.
func (b *Bound) Providers() []string {
	return append([]string(nil), b.providers...)
}

// Substitutions returns the requested to used model ids substituted so far.
func (b *Bound) Substitutions() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]string, len(b.substitutions))
	for k, v := range b.substitutions {
		out[k] = v
	}
	return out
}

// Resolve implements invoke.Resolver.
//
// The returned handle's chat model is built with the key captured when the
// Bound was created. A disabled model is swapped for an enabled one of the
// same provider and the swap is recorded in Substitutions.
func (b *Bound) Resolve(_ context.Context, ref string) (invoke.Handle, error) {
	entry, err := b.registry.catalog.Lookup(ref)
	if err != nil {
		return invoke.Handle{}, err
	}

	used, ok := b.substitute(entry.Provider, entry.Model)
	if !ok {
		return invoke.Handle{}, &ConfigError{Message: fmt.Sprintf("no enabled models for provider %s", entry.Provider)}
	}
	if used != entry.Model {
		requested := entry.ID()
		entry, err = b.registry.catalog.Lookup(entry.Provider + "/" + used)
		if err != nil {
			return invoke.Handle{}, err
		}
		b.mu.Lock()
		b.substitutions[requested] = entry.ID()
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handles[entry.ID()]; ok {
		return h, nil
	}

	key, ok := b.keys[entry.Provider]
	if !ok {
		return invoke.Handle{}, &MissingCredentialsError{TenantID: b.tenantID, Providers: []string{entry.Provider}}
	}
	chat, err := b.registry.factory(entry.Provider, entry.Model, key)
	if err != nil {
		return invoke.Handle{}, err
	}
	h := invoke.Handle{
		Provider: entry.Provider,
		Model:    entry.Model,
		Gateway:  gateways[entry.Provider],
		Chat:     chat,
		Pricing:  entry.Pricing,
	}
	b.handles[entry.ID()] = h
	return h, nil
}

// substitute returns the model to use for provider/name: name itself when
// enabled, otherwise the first enabled model of the provider.
func (b *Bound) substitute(provider, name string) (string, bool) {
	enabled := b.enabled[provider]
	if len(enabled) == 0 {
		return "", false
	}
	for _, m := range enabled {
		if m == name {
			return name, true
		}
	}
	return enabled[0], true
}

func copyEnabled(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for p, models := range in {
		var kept []string
		for _, m := range models {
			if m != "" {
				kept = append(kept, m)
			}
		}
		if len(kept) > 0 {
			out[p] = kept
		}
	}
	return out
}

func nonEmpty(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func requirementIDs(reqs []Requirement) string {
	s := ""
	for i, r := range reqs {
		if i > 0 {
			s += ", "
		}
		s += r.ID()
	}
	return s
}
