package model

// Location names substituted into hostnames
type Location struct {
	Region     string `json:"region,omitempty" yaml:"region"`
	Datacenter string `json:"datacenter,omitempty" yaml:"datacenter"`
}

// RackKind tells leaf/access racks apart from the per-row uplink rack
type RackKind string

const (
	RackLeaf   RackKind = "leaf"
	RackUplink RackKind = "uplink"
)

// Rack is one slot of the generated physical layout
type Rack struct {
	Hall  string   `json:"hall"`
	Row   string   `json:"row"`
	Name  string   `json:"name"`
	Index int      `json:"index"` // global slot index, see placement.CableLength
	Kind  RackKind `json:"kind"`
	Pod   int      `json:"pod"`
}

// Placement returns the placement of a device at the given rack unit
func (r Rack) Placement(position int) *RackPlacement {
	return &RackPlacement{
		Hall:      r.Hall,
		Row:       r.Row,
		Rack:      r.Name,
		RackIndex: r.Index,
		Position:  position,
	}
}

// RackPlacement locates a device inside the physical layout
type RackPlacement struct {
	Hall      string `json:"hall"`
	Row       string `json:"row"`
	Rack      string `json:"rack"`
	RackIndex int    `json:"rack_index"`
	Position  int    `json:"position"` // rack unit, 1 = bottom
}
