package prompt

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CatalogEntry is one named custom-profile viewpoint.
type CatalogEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog maps custom-profile labels to richer viewpoint descriptions.
// Labels not present in the catalog pass through verbatim, so callers
// can always supply free-form viewpoints.
type Catalog struct {
	entries map[string]CatalogEntry
}

// LoadCatalog reads a perspectives YAML file:
//
//	perspectives:
//	  - name: small-business-owner
//	    description: A small business owner worried about payroll costs.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prompt: read catalog %s", path)
	}

	var doc struct {
		Perspectives []CatalogEntry `yaml:"perspectives"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "prompt: parse catalog %s", path)
	}

	c := &Catalog{entries: make(map[string]CatalogEntry, len(doc.Perspectives))}
	for _, e := range doc.Perspectives {
		if e.Name == "" {
			return nil, eris.Errorf("prompt: catalog %s: entry with empty name", path)
		}
		c.entries[e.Name] = e
	}
	return c, nil
}

// Resolve expands a label into its catalog description, or returns the
// label itself when it is not cataloged.
func (c *Catalog) Resolve(label string) string {
	if c == nil {
		return label
	}
	if e, ok := c.entries[label]; ok && e.Description != "" {
		return e.Description
	}
	return label
}

// Len returns the number of cataloged perspectives.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
