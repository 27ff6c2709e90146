package ports

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog maps device models to their port layouts. It is read-only after
// construction and safe for concurrent use.
type Catalog struct {
	layouts map[string]Layout
}

type catalogFile struct {
	Models []Layout `yaml:"models"`
}

// NewCatalog indexes the given layouts by model. Port indexes missing from a
// layout are filled in from the port names.
func NewCatalog(layouts ...Layout) (*Catalog, error) {
	c := &Catalog{layouts: make(map[string]Layout, len(layouts))}
	for _, l := range layouts {
		if l.Model == "" {
			return nil, fmt.Errorf("port layout without a model")
		}
		if _, dup := c.layouts[l.Model]; dup {
			return nil, fmt.Errorf("duplicate port layout for model %q", l.Model)
		}

		ports := make([]Port, len(l.Ports))
		seen := make(map[string]bool, len(l.Ports))
		for i, p := range l.Ports {
			if p.Name == "" {
				return nil, fmt.Errorf("model %q: port %d has no name", l.Model, i)
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("model %q: duplicate port %q", l.Model, p.Name)
			}
			seen[p.Name] = true
			if p.Index == 0 {
				p.Index = IndexFromName(p.Name)
			}
			ports[i] = p
		}
		c.layouts[l.Model] = Layout{Model: l.Model, Ports: ports}
	}
	return c, nil
}

// ParseCatalog reads a YAML document of the form
//
//	models:
//	  - model: dcs-7050cx3
//	    ports:
//	      - {name: Ethernet1, speed: 100000}
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing port layouts: %w", err)
	}
	return NewCatalog(f.Models...)
}

// LoadCatalog reads port layouts from a YAML file. An empty path gives an
// empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading port layouts: %w", err)
	}
	return ParseCatalog(data)
}

// Layout returns the layout of a model.
func (c *Catalog) Layout(model string) (Layout, bool) {
	if c == nil {
		return Layout{}, false
	}
	l, ok := c.layouts[model]
	return l, ok
}

// Models lists the known models in name order.
func (c *Catalog) Models() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.layouts))
	for m := range c.layouts {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// FabricPorts returns the ordered fabric-capable ports of a model. Models
// without a known layout get a synthetic layout of exactly demand ports.
func (c *Catalog) FabricPorts(model string, minSpeed, demand int) []Port {
	if l, ok := c.Layout(model); ok {
		return l.ByMinSpeed(minSpeed)
	}
	return Synthetic(demand, minSpeed)
}
