package model

import "time"

// PrefixStatus is the lifecycle state of a prefix
type PrefixStatus string

const (
	PrefixActive     PrefixStatus = "active"
	PrefixReserved   PrefixStatus = "reserved"
	PrefixDeprecated PrefixStatus = "deprecated"
)

// VRF is a routing scope. Prefix and address uniqueness is checked per VRF;
// the empty VRF ID is the global scope.
type VRF struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	RD          string    `json:"rd,omitempty" yaml:"rd,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Prefix is an IPv4 network, either directly assignable or a supernet used as
// a container for sub-allocations
type Prefix struct {
	ID          string       `json:"id"`
	CIDR        string       `json:"cidr"` // canonical, e.g. "10.0.0.0/24"
	Network     uint32       `json:"network_int"`
	Broadcast   uint32       `json:"broadcast_int"`
	Length      int          `json:"length"`
	ParentID    string       `json:"parent_id,omitempty"`
	VRFID       string       `json:"vrf_id,omitempty"`
	IsSupernet  bool         `json:"is_supernet"`
	Status      PrefixStatus `json:"status"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Contains reports whether addr lies inside the prefix
func (p *Prefix) Contains(addr uint32) bool {
	return p.Network <= addr && addr <= p.Broadcast
}

// ContainsRange reports whether [network, broadcast] lies inside the prefix
func (p *Prefix) ContainsRange(network, broadcast uint32) bool {
	return p.Network <= network && broadcast <= p.Broadcast
}

// PrefixFilter holds filter criteria for listing prefixes
type PrefixFilter struct {
	ParentID      string  // Direct children of this prefix
	VRFID         *string // nil matches every scope, "" matches the global scope only
	SupernetsOnly bool
}

// IPAddress is a single host address recorded inside a prefix
type IPAddress struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"` // dotted decimal, no length
	AddressInt  uint32    `json:"address_int"`
	PrefixID    string    `json:"prefix_id"`
	Device      string    `json:"device,omitempty"`
	Interface   string    `json:"interface,omitempty"`
	VRFID       string    `json:"vrf_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AddressFilter holds filter criteria for listing addresses
type AddressFilter struct {
	PrefixID string
	Device   string
}
