// Package ports turns device-model port layouts into the ordered port lists
// a fabric build draws link endpoints from.
package ports

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrExhausted is returned when a node has no unused fabric port left.
var ErrExhausted = errors.New("no free port")

// RoleMgmt marks out-of-band management ports, which never carry fabric links.
const RoleMgmt = "mgmt"

// Port is one physical interface of a device model. Index is the numeric
// slot used as the interface key in the underlay; it is taken from the name
// when a layout does not set it.
type Port struct {
	Name  string `json:"name" yaml:"name"`
	Index int    `json:"index,omitempty" yaml:"index,omitempty"`
	Speed int    `json:"speed" yaml:"speed"` // Mb/s
	Role  string `json:"role,omitempty" yaml:"role,omitempty"`
}

// Layout is the port list of one device model.
type Layout struct {
	Model string `json:"model" yaml:"model"`
	Ports []Port `json:"ports" yaml:"ports"`
}

// ByMinSpeed returns the non-management ports of at least min Mb/s ordered
// by port index.
func (l Layout) ByMinSpeed(min int) []Port {
	var out []Port
	for _, p := range l.Ports {
		if p.Speed >= min && p.Role != RoleMgmt {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// IndexFromName returns the last run of digits in a port name, so both
// "Ethernet49" and "Ethernet1/49" give 49. Names without digits give 0.
func IndexFromName(name string) int {
	end := len(name)
	for end > 0 && !isDigit(name[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(name[start-1]) {
		start--
	}
	if start == end {
		return 0
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0
	}
	return n
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Split divides an ordered port list between downlinks and uplinks.
// A negative downlinks count splits at two thirds of the list, rounded up;
// otherwise the first downlinks ports (at most all of them) are downlinks.
func Split(ports []Port, downlinks int) (down, up []Port) {
	n := len(ports)
	cut := downlinks
	if downlinks < 0 {
		cut = (2*n + 2) / 3
	}
	if cut > n {
		cut = n
	}
	return ports[:cut:cut], ports[cut:]
}

// Synthetic builds a layout of n ports named Ethernet1..EthernetN, all at the
// given speed. It stands in for device models without a known layout.
func Synthetic(n, speed int) []Port {
	out := make([]Port, n)
	for i := range out {
		out[i] = Port{
			Name:  fmt.Sprintf("Ethernet%d", i+1),
			Index: i + 1,
			Speed: speed,
		}
	}
	return out
}

// Cursor hands out a node's ports strictly in order, never twice.
type Cursor struct {
	owner string
	ports []Port
	next  int
}

func NewCursor(owner string, ports []Port) *Cursor {
	return &Cursor{owner: owner, ports: ports}
}

// Next returns the next unused port.
func (c *Cursor) Next() (Port, error) {
	if c.next >= len(c.ports) {
		return Port{}, fmt.Errorf("%w on %s after %d ports", ErrExhausted, c.owner, len(c.ports))
	}
	p := c.ports[c.next]
	c.next++
	return p, nil
}

// Remaining is the number of ports not yet handed out.
func (c *Cursor) Remaining() int {
	return len(c.ports) - c.next
}
