// Package builtins carries the catalog of SSL built-in functions used for
// hover, completion, and signature help. The catalog is an explicitly
// constructed value owned by the session and passed into every consumer,
// never a process-wide singleton.
package builtins

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtins.yaml
var rawCatalog []byte

// Builtin describes one built-in function of the SSL runtime.
type Builtin struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Doc    string   `yaml:"doc"`
}

// Signature returns the display form name(p1, p2).
func (b *Builtin) Signature() string {
	return b.Name + "(" + strings.Join(b.Params, ", ") + ")"
}

// Catalog is a loaded set of built-ins.
type Catalog struct {
	ordered []*Builtin
	byName  map[string]*Builtin
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	var entries []*Builtin
	if err := yaml.Unmarshal(rawCatalog, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse builtins catalog: %w", err)
	}

	c := &Catalog{
		ordered: entries,
		byName:  make(map[string]*Builtin, len(entries)),
	}
	for _, b := range entries {
		c.byName[b.Name] = b
	}
	return c, nil
}

// Lookup returns the built-in with exactly the given name.
func (c *Catalog) Lookup(name string) (*Builtin, bool) {
	if c == nil {
		return nil, false
	}
	b, ok := c.byName[name]
	return b, ok
}

// LookupFold returns the first built-in matching the name
// case-insensitively (SSL itself is case-insensitive).
func (c *Catalog) LookupFold(name string) (*Builtin, bool) {
	if c == nil {
		return nil, false
	}
	if b, ok := c.byName[name]; ok {
		return b, true
	}
	for _, b := range c.ordered {
		if strings.EqualFold(b.Name, name) {
			return b, true
		}
	}
	return nil, false
}

// All returns every built-in in catalog order.
func (c *Catalog) All() []*Builtin {
	if c == nil {
		return nil
	}
	return c.ordered
}

// Len returns the number of built-ins.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ordered)
}
