// Package model describes the model tiers the pipeline can run on.
//
// A tier bundles a provider model name with its context window, tokenizer
// encoding and price. Tiers are data: the default catalog can be replaced by a
// YAML or TOML file without touching code.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Provider names understood by the llm router.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// EncodingEstimate selects the character-ratio token estimator instead of a
// BPE encoding.
const EncodingEstimate = "estimate"

// ErrUnknownTier is returned when a tier name or model is not in the catalog.
var ErrUnknownTier = errors.New("unknown model tier")

// Tier is a capability descriptor for one model.
type Tier struct {
	Name          string  `yaml:"name" toml:"name" json:"name"`
	Provider      string  `yaml:"provider" toml:"provider" json:"provider"`
	Model         string  `yaml:"model" toml:"model" json:"model"`
	Encoding      string  `yaml:"encoding,omitempty" toml:"encoding" json:"encoding,omitempty"`
	ContextWindow int     `yaml:"context_window" toml:"context_window" json:"context_window"`
	InputPer1K    float64 `yaml:"input_per_1k" toml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k" toml:"output_per_1k" json:"output_per_1k"`
}

// Validate checks that the tier can be used for budgeting.
func (t Tier) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier: name is required")
	}
	if t.Model == "" {
		return fmt.Errorf("tier %s: model is required", t.Name)
	}
	if t.ContextWindow <= 0 {
		return fmt.Errorf("tier %s: context_window must be positive", t.Name)
	}
	if t.InputPer1K < 0 || t.OutputPer1K < 0 {
		return fmt.Errorf("tier %s: prices must not be negative", t.Name)
	}
	switch t.Provider {
	case "", ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("tier %s: unsupported provider %q", t.Name, t.Provider)
	}
	return nil
}

// UnknownTierError reports which name failed to resolve.
type UnknownTierError struct {
	Name  string
	Known []string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown model tier %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

func (e *UnknownTierError) Unwrap() error { return ErrUnknownTier }

// Catalog is the set of tiers known to a run.
type Catalog struct {
	tiers map[string]Tier
}

// NewCatalog builds a catalog, rejecting invalid or duplicate tiers.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if t.Provider == "" {
			t.Provider = ProviderOpenAI
		}
		if _, dup := c.tiers[t.Name]; dup {
			return nil, fmt.Errorf("tier %s: defined twice", t.Name)
		}
		c.tiers[t.Name] = t
	}
	return c, nil
}

// DefaultTiers mirrors the models the tool was first built around.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "small", Provider: ProviderOpenAI, Model: "gpt-3.5-turbo", ContextWindow: 4096, InputPer1K: 0.0015, OutputPer1K: 0.002},
		{Name: "large", Provider: ProviderOpenAI, Model: "gpt-3.5-turbo-16k", ContextWindow: 16384, InputPer1K: 0.003, OutputPer1K: 0.004},
		{Name: "gpt4", Provider: ProviderOpenAI, Model: "gpt-4", ContextWindow: 8192, InputPer1K: 0.03, OutputPer1K: 0.06},
		{Name: "haiku", Provider: ProviderAnthropic, Model: "claude-3-5-haiku-latest", Encoding: EncodingEstimate, ContextWindow: 200000, InputPer1K: 0.0008, OutputPer1K: 0.004},
		{Name: "sonnet", Provider: ProviderAnthropic, Model: "claude-sonnet-4-5-20250929", Encoding: EncodingEstimate, ContextWindow: 200000, InputPer1K: 0.003, OutputPer1K: 0.015},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultTiers()...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup resolves a tier by name, falling back to a match on the model name
// so that "--model gpt-4" keeps working.
func (c *Catalog) Lookup(nameOrModel string) (Tier, error) {
	if t, ok := c.tiers[nameOrModel]; ok {
		return t, nil
	}
	for _, name := range c.Names() {
		if t := c.tiers[name]; t.Model == nameOrModel {
			return t, nil
		}
	}
	return Tier{}, &UnknownTierError{Name: nameOrModel, Known: c.Names()}
}

// Names returns the tier names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tiers))
	for name := range c.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tiers returns every tier, sorted by name.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, name := range c.Names() {
		out = append(out, c.tiers[name])
	}
	return out
}
