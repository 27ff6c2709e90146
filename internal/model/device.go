package model

// Role is the tier a fabric node belongs to
type Role string

const (
	RoleSuperSpine   Role = "superspine"
	RoleSpine        Role = "spine"
	RoleLeaf         Role = "leaf"
	RoleExternal     Role = "external"
	RoleCore         Role = "core"
	RoleDistribution Role = "distribution"
	RoleAccess       Role = "access"
)

// Node is a switch produced by the topology generator. Nodes are not
// modified once generated.
type Node struct {
	Role      Role           `json:"role"`
	Hostname  string         `json:"hostname"`
	Index     int            `json:"index"` // 0-based, per role across pods
	Pod       int            `json:"pod"`
	Loopback  string         `json:"loopback"`
	ASN       uint32         `json:"asn"`
	Model     string         `json:"model,omitempty"`
	Placement *RackPlacement `json:"placement,omitempty"`
}

// Endpoint is one side of a fabric link
type Endpoint struct {
	Hostname       string `json:"hostname"`
	Role           Role   `json:"role"`
	Interface      string `json:"interface"`
	InterfaceIndex int    `json:"interface_index"`
	IP             string `json:"ip"`
}

// Link is a point-to-point connection between two nodes. Side A is always the
// tier closer to the core and holds the even address of the /31.
type Link struct {
	A            Endpoint `json:"a"`
	B            Endpoint `json:"b"`
	Subnet       string   `json:"subnet"`
	CableLengthM *float64 `json:"cable_length_m,omitempty"`
}

// Neighbor is one BGP underlay session as seen from the local node
type Neighbor struct {
	LocalIndex     int    `json:"local_index"`
	LocalInterface string `json:"local_interface"`
	LocalIP        string `json:"local_ip"`
	PeerIP         string `json:"peer_ip"`
	PeerASN        uint32 `json:"peer_asn"`
	PeerHostname   string `json:"peer_hostname"`
}

// Plan is the complete output of one topology build
type Plan struct {
	Name         string                      `json:"name"`
	Architecture string                      `json:"architecture"`
	Nodes        []Node                      `json:"nodes"`
	Links        []Link                      `json:"links"`
	Racks        []Rack                      `json:"racks"`
	Underlay     map[string]map[int]Neighbor `json:"underlay"` // hostname -> local interface index
}

// NodesByRole returns the plan's nodes with the given role, in plan order
func (p *Plan) NodesByRole(role Role) []Node {
	var out []Node
	for _, n := range p.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}
