package decoder

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelSpec tells an engine where a named model lives
type ModelSpec struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`  // vosk-server websocket endpoint serving this model
	Path string `yaml:"path"` // model directory for the native engine
}

type catalogFile struct {
	Models []ModelSpec `yaml:"models"`
}

// Catalog maps model names to their locations
type Catalog struct {
	models map[string]ModelSpec
}

// NewCatalog builds a catalog from specs, rejecting duplicates and unnamed entries
func NewCatalog(specs []ModelSpec) (*Catalog, error) {
	c := &Catalog{models: make(map[string]ModelSpec, len(specs))}
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if _, dup := c.models[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", spec.Name)
		}
		c.models[spec.Name] = spec
	}
	return c, nil
}

// ParseCatalog parses YAML catalog data
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	return NewCatalog(file.Models)
}

// LoadCatalog reads a YAML catalog file. A missing file yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewCatalog(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Lookup returns the spec for a model name
func (c *Catalog) Lookup(name string) (ModelSpec, bool) {
	if c == nil {
		return ModelSpec{}, false
	}
	spec, ok := c.models[name]
	return spec, ok
}

// Names returns all model names in sorted order
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of models
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.models)
}
