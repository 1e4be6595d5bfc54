package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/agentgraph/graph/invoke"
)

// Tier names usable as model references.
const (
	TierFast      = "fast"
	TierBalanced  = "balanced"
	TierStrategic = "strategic"
	TierFallback  = "fallback"
)

// Entry is one catalog model.
type Entry struct {
	Provider  string              `json:"provider" yaml:"provider" mapstructure:"provider"`
	Model     string              `json:"model" yaml:"model" mapstructure:"model"`
	Pricing   invoke.ModelPricing `json:"pricing" yaml:"pricing" mapstructure:"pricing"`
	Reasoning bool                `json:"reasoning,omitempty" yaml:"reasoning,omitempty" mapstructure:"reasoning"`
}

// ID returns "provider/model".
func (e Entry) ID() string { return e.Provider + "/" + e.Model }

// Catalog maps tier names and "provider/model" ids to entries.
type Catalog struct {
	entries map[string]Entry
	tiers   map[string]string
}

// NewCatalog builds a catalog. Every tier must name a catalog entry.
func NewCatalog(entries []Entry, tiers map[string]string) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[string]Entry, len(entries)),
		tiers:   make(map[string]string, len(tiers)),
	}
	for _, e := range entries {
		if _, ok := secretNames[e.Provider]; !ok {
			return nil, &ConfigError{Message: fmt.Sprintf("catalog entry %s: unknown provider %q", e.ID(), e.Provider)}
		}
		if e.Model == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("catalog entry for %s has no model", e.Provider)}
		}
		c.entries[e.ID()] = e
	}
	for tier, id := range tiers {
		if _, ok := c.entries[id]; !ok {
			return nil, &ConfigError{Message: fmt.Sprintf("tier %q names unknown model %q", tier, id)}
		}
		c.tiers[tier] = id
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	entries := []Entry{
		{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
		{Provider: ProviderOpenAI, Model: "gpt-4.1"},
		{Provider: ProviderOpenAI, Model: "o4-mini", Reasoning: true},
		{Provider: ProviderAnthropic, Model: "claude-3-5-haiku-20241022"},
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderGoogle, Model: "gemini-2.5-flash"},
		{Provider: ProviderGoogle, Model: "gemini-2.5-pro", Reasoning: true},
		{Provider: ProviderOpenRouter, Model: "openai/gpt-4o-mini", Pricing: invoke.ModelPricing{InputPer1M: 0.15, OutputPer1M: 0.60}},
	}
	for i := range entries {
		if p, ok := invoke.DefaultPricing(entries[i].Model); ok {
			entries[i].Pricing = p
		}
	}
	c, err := NewCatalog(entries, map[string]string{
		TierFast:      "openai/gpt-4o-mini",
		TierBalanced:  "openai/gpt-4.1",
		TierStrategic: "anthropic/claude-sonnet-4-20250514",
		TierFallback:  "google/gemini-2.5-flash",
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup resolves a tier name or "provider/model" id. Ids of a known
// provider that are not in the catalog resolve to an entry with built-in
// pricing, if any.
func (c *Catalog) Lookup(ref string) (Entry, error) {
	if id, ok := c.tiers[ref]; ok {
		return c.entries[id], nil
	}
	if e, ok := c.entries[ref]; ok {
		return e, nil
	}

	provider, name, ok := strings.Cut(ref, "/")
	if !ok || name == "" {
		return Entry{}, &ConfigError{Message: fmt.Sprintf("unknown model reference %q", ref)}
	}
	if _, known := secretNames[provider]; !known {
		return Entry{}, &ConfigError{Message: fmt.Sprintf("unknown provider %q in model reference %q", provider, ref)}
	}
	e := Entry{Provider: provider, Model: name}
	e.Pricing, _ = invoke.DefaultPricing(name)
	return e, nil
}

// Entries returns all entries sorted by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Tiers returns a copy of the tier map.
func (c *Catalog) Tiers() map[string]string {
	out := make(map[string]string, len(c.tiers))
	for k, v := range c.tiers {
		out[k] = v
	}
	return out
}

// Requirement is a distinct provider/model pair a workflow needs.
type Requirement struct {
	Provider string
	Model    string
}

// ID returns "provider/model".
func (r Requirement) ID() string { return r.Provider + "/" + r.Model }

// ExtractRequirements resolves refs against c and returns the distinct
// provider/model pairs, sorted by id. Empty refs are skipped.
func ExtractRequirements(c *Catalog, refs []string) ([]Requirement, error) {
	seen := make(map[string]Requirement)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		e, err := c.Lookup(ref)
		if err != nil {
			return nil, err
		}
		seen[e.ID()] = Requirement{Provider: e.Provider, Model: e.Model}
	}

	out := make([]Requirement, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}
