// Package fabric synthesizes switching fabrics: nodes, point-to-point links,
// BGP underlay sessions and rack placement, from a declarative request.
package fabric

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinsuchenak/rackfab/internal/placement"
)

// ErrInvalidRequest is returned for requests that cannot describe a fabric.
var ErrInvalidRequest = errors.New("invalid fabric request")

const (
	ArchClos         = "clos"
	ArchHierarchical = "hierarchical"
)

// Request asks for one fabric.
type Request struct {
	Name   string         `yaml:"name"`
	Layout PhysicalLayout `yaml:"layout"`
	Fabric Fabric         `yaml:"-"`
}

// PhysicalLayout is the floor plan the fabric is placed on.
type PhysicalLayout struct {
	Halls          int     `yaml:"halls"`
	RowsPerHall    int     `yaml:"rows_per_hall"`
	RacksPerRow    int     `yaml:"racks_per_row"`
	DevicesPerRack int     `yaml:"devices_per_rack"`
	RowSpacingCM   float64 `yaml:"row_spacing_cm"`
	RackHeightU    int     `yaml:"rack_height_u"`
}

// Fabric is one of Clos or Hierarchical.
type Fabric interface {
	Architecture() string
	validate() error
}

// Clos is a spine-leaf fabric, optionally with a super-spine tier joining
// several spine-leaf pods.
type Clos struct {
	SpineCount       int         `yaml:"spine_count"`
	LeafCount        int         `yaml:"leaf_count"`
	ExternalCount    int         `yaml:"external_count"`
	LinksPerLeaf     int         `yaml:"links_per_leaf"`     // parallel links per spine-leaf pair
	LinksPerExternal int         `yaml:"links_per_external"` // parallel links per external uplink pair
	SpineModel       string      `yaml:"spine_model"`
	LeafModel        string      `yaml:"leaf_model"`
	ExternalModel    string      `yaml:"external_model"`
	LeafPlacement    string      `yaml:"leaf_placement"`
	SuperSpine       *SuperSpine `yaml:"super_spine,omitempty"`
}

// SuperSpine adds a third tier. Spine and leaf counts become per pod.
type SuperSpine struct {
	Count         int    `yaml:"count"`
	Pods          int    `yaml:"pods"`
	LinksPerSpine int    `yaml:"links_per_spine"`
	Model         string `yaml:"model"`
}

// Hierarchical is a classic core, distribution and access design.
type Hierarchical struct {
	CoreCount            int    `yaml:"core_count"`
	DistributionCount    int    `yaml:"distribution_count"`
	AccessCount          int    `yaml:"access_count"`
	LinksPerAccess       int    `yaml:"links_per_access"`       // parallel links per distribution-access pair
	LinksPerDistribution int    `yaml:"links_per_distribution"` // parallel links per core-distribution pair
	CoreModel            string `yaml:"core_model"`
	DistributionModel    string `yaml:"distribution_model"`
	AccessModel          string `yaml:"access_model"`
	AccessPlacement      string `yaml:"access_placement"`
}

func (c *Clos) Architecture() string         { return ArchClos }
func (h *Hierarchical) Architecture() string { return ArchHierarchical }

// Pods is the number of spine-leaf pods. Super-spine fabrics always have at
// least two.
func (c *Clos) Pods() int {
	if c.SuperSpine == nil {
		return 1
	}
	if c.SuperSpine.Pods < 2 {
		return 2
	}
	return c.SuperSpine.Pods
}

func (c *Clos) validate() error {
	if c.SpineCount < 1 || c.LeafCount < 1 {
		return fmt.Errorf("%w: clos needs at least one spine and one leaf", ErrInvalidRequest)
	}
	if c.LinksPerLeaf < 1 {
		return fmt.Errorf("%w: links_per_leaf must be at least 1", ErrInvalidRequest)
	}
	if c.ExternalCount < 0 {
		return fmt.Errorf("%w: external_count cannot be negative", ErrInvalidRequest)
	}
	if c.ExternalCount > 0 && c.LinksPerExternal < 1 {
		return fmt.Errorf("%w: links_per_external must be at least 1", ErrInvalidRequest)
	}
	if ss := c.SuperSpine; ss != nil {
		if ss.Count < 1 {
			return fmt.Errorf("%w: super_spine.count must be at least 1", ErrInvalidRequest)
		}
		if ss.LinksPerSpine < 1 {
			return fmt.Errorf("%w: super_spine.links_per_spine must be at least 1", ErrInvalidRequest)
		}
		if ss.Pods < 0 {
			return fmt.Errorf("%w: super_spine.pods cannot be negative", ErrInvalidRequest)
		}
	}
	if _, err := placement.ParseStrategy(c.LeafPlacement); err != nil {
		return fmt.Errorf("%w: leaf_placement: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (h *Hierarchical) validate() error {
	if h.CoreCount < 1 || h.DistributionCount < 1 || h.AccessCount < 1 {
		return fmt.Errorf("%w: hierarchical needs at least one core, distribution and access switch", ErrInvalidRequest)
	}
	if h.LinksPerAccess < 1 || h.LinksPerDistribution < 1 {
		return fmt.Errorf("%w: links_per_access and links_per_distribution must be at least 1", ErrInvalidRequest)
	}
	if _, err := placement.ParseStrategy(h.AccessPlacement); err != nil {
		return fmt.Errorf("%w: access_placement: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Validate checks the request before any allocation happens.
func (r *Request) Validate() error {
	l := r.Layout
	if l.Halls < 1 || l.RowsPerHall < 1 || l.RacksPerRow < 1 || l.DevicesPerRack < 1 {
		return fmt.Errorf("%w: halls, rows_per_hall, racks_per_row and devices_per_rack must be at least 1", ErrInvalidRequest)
	}
	if l.RowSpacingCM < 0 || l.RackHeightU < 0 {
		return fmt.Errorf("%w: row_spacing_cm and rack_height_u cannot be negative", ErrInvalidRequest)
	}
	if r.Fabric == nil {
		return fmt.Errorf("%w: no fabric architecture given", ErrInvalidRequest)
	}
	return r.Fabric.validate()
}

type requestYAML struct {
	Name         string         `yaml:"name"`
	Architecture string         `yaml:"architecture"`
	Layout       PhysicalLayout `yaml:"layout"`
	Clos         *Clos          `yaml:"clos,omitempty"`
	Hierarchical *Hierarchical  `yaml:"hierarchical,omitempty"`
}

// UnmarshalYAML picks the fabric variant from the architecture tag. Only the
// section matching the tag may be present.
func (r *Request) UnmarshalYAML(node *yaml.Node) error {
	var raw requestYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}

	r.Name = raw.Name
	r.Layout = raw.Layout

	switch strings.ToLower(raw.Architecture) {
	case ArchClos:
		if raw.Clos == nil || raw.Hierarchical != nil {
			return fmt.Errorf("%w: %q: architecture clos needs a clos section only", ErrInvalidRequest, raw.Name)
		}
		r.Fabric = raw.Clos
	case ArchHierarchical:
		if raw.Hierarchical == nil || raw.Clos != nil {
			return fmt.Errorf("%w: %q: architecture hierarchical needs a hierarchical section only", ErrInvalidRequest, raw.Name)
		}
		r.Fabric = raw.Hierarchical
	default:
		return fmt.Errorf("%w: %q: unknown architecture %q", ErrInvalidRequest, raw.Name, raw.Architecture)
	}
	return nil
}

// MarshalYAML writes the request back in the tagged form.
func (r Request) MarshalYAML() (interface{}, error) {
	raw := requestYAML{Name: r.Name, Layout: r.Layout}
	switch f := r.Fabric.(type) {
	case *Clos:
		raw.Architecture, raw.Clos = ArchClos, f
	case *Hierarchical:
		raw.Architecture, raw.Hierarchical = ArchHierarchical, f
	}
	return raw, nil
}

type requestFile struct {
	Fabrics []Request `yaml:"fabrics"`
}

// ParseRequests reads a YAML document holding a list of fabrics.
func ParseRequests(data []byte) ([]Request, error) {
	var f requestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fabric requests: %w", err)
	}
	for i := range f.Fabrics {
		if err := f.Fabrics[i].Validate(); err != nil {
			return nil, fmt.Errorf("fabric %q: %w", f.Fabrics[i].Name, err)
		}
	}
	return f.Fabrics, nil
}

// LoadRequests reads fabric requests from a YAML file.
func LoadRequests(path string) ([]Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fabric requests: %w", err)
	}
	return ParseRequests(data)
}
