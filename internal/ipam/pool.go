package ipam

import (
	"fmt"
	"sort"

	"github.com/martinsuchenak/rackfab/internal/cidr"
)

// Pool is an in-memory view of a supernet and the ranges already carved out
// of it. It is not safe for concurrent use; callers that share a pool across
// builds serialize through a Locker.
type Pool struct {
	ID     string
	VRFID  string
	Prefix Range
	Length int

	used []Range // sorted, merged
}

// NewPool builds a pool over the prefix network/length with the given ranges
// already allocated.
func NewPool(network uint32, length int, allocated []Range) *Pool {
	return &Pool{
		Prefix: RangeOf(network, length),
		Length: length,
		used:   MergeRanges(allocated),
	}
}

// CIDR is the pool prefix in canonical form.
func (p *Pool) CIDR() string {
	return cidr.Format(p.Prefix.Network, p.Length)
}

// Allocate carves out the lowest free block of the given length.
func (p *Pool) Allocate(length int) (Range, error) {
	if length < p.Length {
		return Range{}, fmt.Errorf("%w: /%d does not fit in %s", ErrContainment, length, p.CIDR())
	}
	r, err := nextFreeBlock(p.Prefix, length, p.used)
	if err != nil {
		return Range{}, err
	}
	p.insert(r)
	return r, nil
}

// Reserve marks a specific range as used.
func (p *Pool) Reserve(r Range) error {
	if !p.Prefix.Contains(r) {
		return fmt.Errorf("%w: %s is outside %s", ErrContainment, r, p.CIDR())
	}
	i := sort.Search(len(p.used), func(i int) bool {
		return p.used[i].Broadcast >= r.Network
	})
	if i < len(p.used) && p.used[i].Overlaps(r) {
		return fmt.Errorf("%w: %s in %s", ErrDuplicate, r, p.CIDR())
	}
	p.insert(r)
	return nil
}

// IsFree reports whether no part of r has been allocated.
func (p *Pool) IsFree(r Range) bool {
	i := sort.Search(len(p.used), func(i int) bool {
		return p.used[i].Broadcast >= r.Network
	})
	return i == len(p.used) || !p.used[i].Overlaps(r)
}

// Used returns the number of allocated addresses.
func (p *Pool) Used() uint64 {
	var n uint64
	for _, r := range p.used {
		n += r.Size()
	}
	return n
}

// Allocated returns a copy of the merged allocated ranges.
func (p *Pool) Allocated() []Range {
	out := make([]Range, len(p.used))
	copy(out, p.used)
	return out
}

// Clone returns an independent copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	c := *p
	c.used = p.Allocated()
	return &c
}

func (p *Pool) insert(r Range) {
	i := sort.Search(len(p.used), func(i int) bool {
		return p.used[i].Network > r.Network
	})
	p.used = append(p.used, Range{})
	copy(p.used[i+1:], p.used[i:])
	p.used[i] = r

	// Coalesce with the neighbours on either side.
	start := i
	if start > 0 {
		start--
	}
	end := i + 1
	if end > len(p.used)-1 {
		end = len(p.used) - 1
	}
	merged := MergeRanges(p.used[start : end+1])
	p.used = append(p.used[:start], append(merged, p.used[end+1:]...)...)
}
