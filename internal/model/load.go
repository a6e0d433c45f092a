package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Tiers []Tier `yaml:"tiers" toml:"tiers"`
}

// LoadCatalog reads a tier catalog from a .yaml/.yml or .toml file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}

	var f catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse tiers yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse tiers toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported tiers file extension: %s", ext)
	}

	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("tiers file %s defines no tiers", path)
	}
	return NewCatalog(f.Tiers...)
}
