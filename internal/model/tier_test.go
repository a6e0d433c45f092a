package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLookup(t *testing.T) {
	c := DefaultCatalog()

	small, err := c.Lookup("small")
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", small.Model)
	assert.Equal(t, 4096, small.ContextWindow)

	byModel, err := c.Lookup("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "gpt4", byModel.Name)
	assert.Equal(t, 8192, byModel.ContextWindow)
}

func TestLookupUnknownTier(t *testing.T) {
	_, err := DefaultCatalog().Lookup("gpt-17")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTier))

	var unknown *UnknownTierError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "gpt-17", unknown.Name)
	assert.Contains(t, unknown.Known, "small")
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
	}{
		{"missing name", Tier{Model: "m", ContextWindow: 10}},
		{"missing model", Tier{Name: "a", ContextWindow: 10}},
		{"zero window", Tier{Name: "a", Model: "m"}},
		{"negative price", Tier{Name: "a", Model: "m", ContextWindow: 10, InputPer1K: -1}},
		{"bad provider", Tier{Name: "a", Model: "m", ContextWindow: 10, Provider: "acme"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(tc.tier)
			assert.Error(t, err)
		})
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	tier := Tier{Name: "a", Model: "m", ContextWindow: 10}
	_, err := NewCatalog(tier, tier)
	assert.Error(t, err)
}

func TestNewCatalogDefaultsProvider(t *testing.T) {
	c, err := NewCatalog(Tier{Name: "a", Model: "m", ContextWindow: 10})
	require.NoError(t, err)
	tier, err := c.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, tier.Provider)
}

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `tiers:
  - name: tiny
    model: gpt-3.5-turbo
    context_window: 4096
    input_per_1k: 0.002
  - name: wide
    provider: anthropic
    model: claude-sonnet
    encoding: estimate
    context_window: 200000
    input_per_1k: 0.003
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tiny", "wide"}, c.Names())

	wide, err := c.Lookup("wide")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, wide.Provider)
	assert.Equal(t, EncodingEstimate, wide.Encoding)
	assert.InDelta(t, 0.003, wide.InputPer1K, 1e-12)
}

func TestLoadCatalogTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.toml")
	content := `[[tiers]]
name = "tiny"
model = "gpt-3.5-turbo"
context_window = 4096
input_per_1k = 0.002
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	tiny, err := c.Lookup("tiny")
	require.NoError(t, err)
	assert.Equal(t, 4096, tiny.ContextWindow)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	jsonPath := filepath.Join(dir, "tiers.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o644))
	_, err = LoadCatalog(jsonPath)
	assert.Error(t, err)

	emptyPath := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(emptyPath, []byte("tiers: []\n"), 0o644))
	_, err = LoadCatalog(emptyPath)
	assert.Error(t, err)
}
