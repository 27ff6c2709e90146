package fabric

import (
	"fmt"

	"github.com/martinsuchenak/rackfab/internal/cidr"
	"github.com/martinsuchenak/rackfab/internal/ipam"
	"github.com/martinsuchenak/rackfab/internal/model"
	"github.com/martinsuchenak/rackfab/internal/placement"
	"github.com/martinsuchenak/rackfab/internal/ports"
)

// Settings are the read-only knobs shared by every build.
type Settings struct {
	HostnamePattern string         `yaml:"hostname_pattern"`
	CableSlackPct   float64        `yaml:"cable_slack_pct"`
	MinLinkSpeed    int            `yaml:"min_link_speed"` // Mb/s
	Location        model.Location `yaml:"location"`
}

// Pools are the address pools a build allocates from: /31s for links and
// /32s for loopbacks.
type Pools struct {
	P2P      *ipam.Pool
	Loopback *ipam.Pool
}

// BGP numbering. Spines share one ASN per pod, leaves get one each, and
// externals count down from the top of the private 4-byte range.
const (
	asnSuperSpine      uint32 = 4200000000
	asnCore            uint32 = 4200000000
	asnSpineBase       uint32 = 4200000100
	asnDistribution    uint32 = 4200000100
	asnLeafBase        uint32 = 4200001000
	asnExternalCeiling uint32 = 4294967294
)

// maxLoopbackBlock caps the loopback range reserved per tier.
const maxLoopbackBlock = 1024

// Loopbacks are carved from the loopback pool in four equal tier blocks.
func loopbackTier(role model.Role) int {
	switch role {
	case model.RoleSuperSpine, model.RoleCore:
		return 0
	case model.RoleSpine, model.RoleDistribution:
		return 1
	case model.RoleLeaf, model.RoleAccess:
		return 2
	default:
		return 3
	}
}

// portDemand is how many fabric ports a node needs facing down and up. With
// both populations present the list is split at two thirds unless exact is
// set, in which case the first down ports are downlinks.
type portDemand struct {
	down  int
	up    int
	exact bool
}

type fabricNode struct {
	model.Node
	down *ports.Cursor
	up   *ports.Cursor
}

type nodeSpec struct {
	role      model.Role
	pod       int
	podLabel  string
	model     string
	placement *model.RackPlacement
	asn       func(index int) uint32
	demand    portDemand
}

type generator struct {
	req      Request
	settings Settings
	catalog  *ports.Catalog

	p2p      *ipam.Pool
	loopback *ipam.Pool
	loopSize uint64
	loopNext [4]uint64 // next offset to try in each tier block

	racks  []model.Rack
	placer *placement.Placer

	nodes     []*fabricNode
	links     []model.Link
	underlay  map[string]map[int]model.Neighbor
	hostnames map[string]bool
	counts    map[model.Role]int
}

// Generate builds the plan for one fabric. It is deterministic and touches
// no shared state: the pools are cloned before allocating, so the caller's
// snapshots are left as they were.
func Generate(req Request, settings Settings, catalog *ports.Catalog, pools Pools) (*model.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if pools.P2P == nil || pools.Loopback == nil {
		return nil, fmt.Errorf("%w: point-to-point and loopback pools are required", ErrInvalidRequest)
	}
	if settings.HostnamePattern == "" {
		settings.HostnamePattern = DefaultHostnamePattern
	}

	geometry := placement.Geometry{
		Halls:       req.Layout.Halls,
		RowsPerHall: req.Layout.RowsPerHall,
		RacksPerRow: req.Layout.RacksPerRow,
		Pods:        1,
	}
	if c, ok := req.Fabric.(*Clos); ok {
		geometry.Pods = c.Pods()
	}

	loopSize := pools.Loopback.Prefix.Size() / 4
	if loopSize > maxLoopbackBlock {
		loopSize = maxLoopbackBlock
	}

	g := &generator{
		req:       req,
		settings:  settings,
		catalog:   catalog,
		p2p:       pools.P2P.Clone(),
		loopback:  pools.Loopback.Clone(),
		loopSize:  loopSize,
		racks:     placement.GenerateLayout(geometry),
		placer:    placement.NewPlacer(req.Layout.RackHeightU),
		underlay:  make(map[string]map[int]model.Neighbor),
		hostnames: make(map[string]bool),
		counts:    make(map[model.Role]int),
	}

	var err error
	switch f := req.Fabric.(type) {
	case *Clos:
		err = g.clos(f)
	case *Hierarchical:
		err = g.hierarchical(f)
	default:
		err = fmt.Errorf("%w: unsupported fabric %T", ErrInvalidRequest, f)
	}
	if err != nil {
		return nil, err
	}

	plan := &model.Plan{
		Name:         req.Name,
		Architecture: req.Fabric.Architecture(),
		Nodes:        make([]model.Node, len(g.nodes)),
		Links:        g.links,
		Racks:        g.racks,
		Underlay:     g.underlay,
	}
	for i, n := range g.nodes {
		plan.Nodes[i] = n.Node
	}
	if plan.Links == nil {
		plan.Links = []model.Link{}
	}
	return plan, nil
}

func (g *generator) clos(c *Clos) error {
	pods := c.Pods()
	strategy, _ := placement.ParseStrategy(c.LeafPlacement)

	superCount, linksPerSpine := 0, 0
	if c.SuperSpine != nil {
		superCount, linksPerSpine = c.SuperSpine.Count, c.SuperSpine.LinksPerSpine
	}

	spineDemand := portDemand{down: c.LeafCount * c.LinksPerLeaf}
	if c.SuperSpine != nil {
		spineDemand.up = superCount * linksPerSpine
		spineDemand.exact = true
	} else {
		spineDemand.up = c.ExternalCount * c.LinksPerExternal
	}

	spines := make([][]*fabricNode, pods)
	leaves := make([][]*fabricNode, pods)
	for pod := 0; pod < pods; pod++ {
		podLabel := ""
		if c.SuperSpine != nil {
			podLabel = fmt.Sprintf("pod%d", pod+1)
		}
		uplinkRacks := placement.Filter(g.racks, model.RackUplink, pod)
		leafRacks := placement.Filter(g.racks, model.RackLeaf, pod)
		spineASN := asnSpineBase + uint32(pod)

		for i := 0; i < c.SpineCount; i++ {
			n, err := g.addNode(nodeSpec{
				role:      model.RoleSpine,
				pod:       pod,
				podLabel:  podLabel,
				model:     c.SpineModel,
				placement: g.placer.RoundRobin(uplinkRacks, i, placement.Bottom),
				asn:       func(int) uint32 { return spineASN },
				demand:    spineDemand,
			})
			if err != nil {
				return err
			}
			spines[pod] = append(spines[pod], n)
		}

		for i := 0; i < c.LeafCount; i++ {
			n, err := g.addNode(nodeSpec{
				role:      model.RoleLeaf,
				pod:       pod,
				podLabel:  podLabel,
				model:     c.LeafModel,
				placement: g.placer.PerRack(leafRacks, i, g.req.Layout.DevicesPerRack, strategy),
				asn:       func(index int) uint32 { return asnLeafBase + uint32(index) },
				demand:    portDemand{up: c.SpineCount * c.LinksPerLeaf},
			})
			if err != nil {
				return err
			}
			leaves[pod] = append(leaves[pod], n)
		}
	}

	var supers []*fabricNode
	if ss := c.SuperSpine; ss != nil {
		uplinkRacks := placement.Filter(g.racks, model.RackUplink, -1)
		for i := 0; i < ss.Count; i++ {
			n, err := g.addNode(nodeSpec{
				role:      model.RoleSuperSpine,
				model:     ss.Model,
				placement: g.placer.RoundRobin(uplinkRacks, i, placement.Bottom),
				asn:       func(int) uint32 { return asnSuperSpine },
				demand: portDemand{
					down:  pods * c.SpineCount * linksPerSpine,
					up:    c.ExternalCount * c.LinksPerExternal,
					exact: true,
				},
			})
			if err != nil {
				return err
			}
			supers = append(supers, n)
		}
	}

	// Externals hang off the topmost tier.
	edge := supers
	if len(edge) == 0 {
		edge = spines[0]
	}
	var externals []*fabricNode
	for i := 0; i < c.ExternalCount; i++ {
		n, err := g.addNode(nodeSpec{
			role:   model.RoleExternal,
			model:  c.ExternalModel,
			asn:    func(index int) uint32 { return asnExternalCeiling - uint32(index) },
			demand: portDemand{down: len(edge) * c.LinksPerExternal},
		})
		if err != nil {
			return err
		}
		externals = append(externals, n)
	}

	for l := 0; l < c.LinksPerLeaf; l++ {
		for li := 0; li < c.LeafCount; li++ {
			for si := 0; si < c.SpineCount; si++ {
				for pod := 0; pod < pods; pod++ {
					if err := g.connect(spines[pod][si], leaves[pod][li]); err != nil {
						return err
					}
				}
			}
		}
	}

	for l := 0; l < linksPerSpine; l++ {
		for si := 0; si < c.SpineCount; si++ {
			for ssi := range supers {
				for pod := 0; pod < pods; pod++ {
					if err := g.connect(supers[ssi], spines[pod][si]); err != nil {
						return err
					}
				}
			}
		}
	}

	for l := 0; l < c.LinksPerExternal && len(externals) > 0; l++ {
		for ti := range edge {
			for ei := range externals {
				if err := g.connect(externals[ei], edge[ti]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (g *generator) hierarchical(h *Hierarchical) error {
	strategy, _ := placement.ParseStrategy(h.AccessPlacement)
	uplinkRacks := placement.Filter(g.racks, model.RackUplink, -1)
	accessRacks := placement.Filter(g.racks, model.RackLeaf, -1)

	var cores, dists, access []*fabricNode

	for i := 0; i < h.CoreCount; i++ {
		n, err := g.addNode(nodeSpec{
			role:   model.RoleCore,
			model:  h.CoreModel,
			asn:    func(int) uint32 { return asnCore },
			demand: portDemand{down: h.DistributionCount * h.LinksPerDistribution},
		})
		if err != nil {
			return err
		}
		cores = append(cores, n)
	}

	for i := 0; i < h.DistributionCount; i++ {
		n, err := g.addNode(nodeSpec{
			role:      model.RoleDistribution,
			model:     h.DistributionModel,
			placement: g.placer.RoundRobin(uplinkRacks, i, placement.Bottom),
			asn:       func(int) uint32 { return asnDistribution },
			demand: portDemand{
				down: h.AccessCount * h.LinksPerAccess,
				up:   h.CoreCount * h.LinksPerDistribution,
			},
		})
		if err != nil {
			return err
		}
		dists = append(dists, n)
	}

	for i := 0; i < h.AccessCount; i++ {
		n, err := g.addNode(nodeSpec{
			role:      model.RoleAccess,
			model:     h.AccessModel,
			placement: g.placer.PerRack(accessRacks, i, g.req.Layout.DevicesPerRack, strategy),
			asn:       func(index int) uint32 { return asnLeafBase + uint32(index) },
			demand:    portDemand{up: h.DistributionCount * h.LinksPerAccess},
		})
		if err != nil {
			return err
		}
		access = append(access, n)
	}

	for l := 0; l < h.LinksPerAccess; l++ {
		for ai := range access {
			for di := range dists {
				if err := g.connect(dists[di], access[ai]); err != nil {
					return err
				}
			}
		}
	}

	for l := 0; l < h.LinksPerDistribution; l++ {
		for di := range dists {
			for ci := range cores {
				if err := g.connect(cores[ci], dists[di]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (g *generator) addNode(spec nodeSpec) (*fabricNode, error) {
	index := g.counts[spec.role]
	g.counts[spec.role]++

	hall := ""
	if spec.placement != nil {
		hall = spec.placement.Hall
	}
	hostname := ResolveHostname(g.settings.HostnamePattern, HostnameVars{
		Region:     g.settings.Location.Region,
		Datacenter: g.settings.Location.Datacenter,
		Hall:       hall,
		Pod:        spec.podLabel,
		Role:       string(spec.role),
		Index:      index + 1,
	})
	if hostname == "" || g.hostnames[hostname] {
		return nil, fmt.Errorf("%w: hostname pattern %q gives duplicate name %q for %s %d",
			ErrInvalidRequest, g.settings.HostnamePattern, hostname, spec.role, index+1)
	}
	g.hostnames[hostname] = true

	loopback, err := g.reserveLoopback(spec.role)
	if err != nil {
		return nil, fmt.Errorf("loopback for %s: %w", hostname, err)
	}

	down, up := g.resolvePorts(spec.model, spec.demand)

	n := &fabricNode{
		Node: model.Node{
			Role:      spec.role,
			Hostname:  hostname,
			Index:     index,
			Pod:       spec.pod,
			Loopback:  cidr.FormatIPv4(loopback),
			ASN:       spec.asn(index),
			Model:     spec.model,
			Placement: spec.placement,
		},
		down: ports.NewCursor(hostname, down),
		up:   ports.NewCursor(hostname, up),
	}
	g.nodes = append(g.nodes, n)
	return n, nil
}

// reserveLoopback takes the lowest free /32 in the role's tier block, so
// fabrics sharing a loopback pool continue where the previous one stopped.
func (g *generator) reserveLoopback(role model.Role) (uint32, error) {
	tier := loopbackTier(role)
	base := uint64(g.loopback.Prefix.Network) + uint64(tier)*g.loopSize
	for off := g.loopNext[tier]; off < g.loopSize; off++ {
		addr := uint32(base + off)
		r := ipam.Range{Network: addr, Broadcast: addr}
		if !g.loopback.IsFree(r) {
			continue
		}
		if err := g.loopback.Reserve(r); err != nil {
			return 0, err
		}
		g.loopNext[tier] = off + 1
		return addr, nil
	}
	return 0, fmt.Errorf("%w: no free %s loopback in the %d-address block of %s",
		ipam.ErrExhausted, role, g.loopSize, g.loopback.CIDR())
}

func (g *generator) resolvePorts(modelName string, d portDemand) (down, up []ports.Port) {
	fabric := g.catalog.FabricPorts(modelName, g.settings.MinLinkSpeed, d.down+d.up)
	if _, known := g.catalog.Layout(modelName); !known {
		return ports.Split(fabric, d.down)
	}

	switch {
	case d.up == 0:
		return ports.Split(fabric, len(fabric))
	case d.down == 0:
		return ports.Split(fabric, 0)
	case d.exact:
		return ports.Split(fabric, d.down)
	default:
		return ports.Split(fabric, -1)
	}
}

// connect links an upper-tier node to a lower-tier one. The upper node is
// side A and takes the even address of the /31.
func (g *generator) connect(upper, lower *fabricNode) error {
	upPort, err := upper.down.Next()
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", upper.Hostname, lower.Hostname, err)
	}
	lowPort, err := lower.up.Next()
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", upper.Hostname, lower.Hostname, err)
	}
	subnet, err := g.p2p.Allocate(31)
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", upper.Hostname, lower.Hostname, err)
	}

	a := model.Endpoint{
		Hostname:       upper.Hostname,
		Role:           upper.Role,
		Interface:      upPort.Name,
		InterfaceIndex: upPort.Index,
		IP:             cidr.FormatIPv4(subnet.Network),
	}
	b := model.Endpoint{
		Hostname:       lower.Hostname,
		Role:           lower.Role,
		Interface:      lowPort.Name,
		InterfaceIndex: lowPort.Index,
		IP:             cidr.FormatIPv4(subnet.Broadcast),
	}

	layout := g.req.Layout
	g.links = append(g.links, model.Link{
		A:      a,
		B:      b,
		Subnet: cidr.Format(subnet.Network, 31),
		CableLengthM: placement.CableLength(upper.Placement, lower.Placement,
			layout.RacksPerRow, layout.RowSpacingCM, g.settings.CableSlackPct, g.placer.HeightU()),
	})

	if err := g.addNeighbor(a, b, lower.ASN); err != nil {
		return err
	}
	return g.addNeighbor(b, a, upper.ASN)
}

func (g *generator) addNeighbor(local, peer model.Endpoint, peerASN uint32) error {
	sessions, ok := g.underlay[local.Hostname]
	if !ok {
		sessions = make(map[int]model.Neighbor)
		g.underlay[local.Hostname] = sessions
	}
	if prev, dup := sessions[local.InterfaceIndex]; dup {
		return fmt.Errorf("%w: %s ports %s and %s share interface index %d",
			ErrInvalidRequest, local.Hostname, prev.LocalInterface, local.Interface, local.InterfaceIndex)
	}
	sessions[local.InterfaceIndex] = model.Neighbor{
		LocalIndex:     local.InterfaceIndex,
		LocalInterface: local.Interface,
		LocalIP:        local.IP,
		PeerIP:         peer.IP,
		PeerASN:        peerASN,
		PeerHostname:   peer.Hostname,
	}
	return nil
}
