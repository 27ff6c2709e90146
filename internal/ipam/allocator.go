// Package ipam allocates prefixes and host addresses out of supernet pools.
//
// The functions in this file are pure: they see the already-allocated ranges
// as an argument and never touch storage. Service wraps them with
// persistence, and Pool keeps an in-memory view for planners that allocate
// many blocks in one pass.
package ipam

import (
	"fmt"
	"sort"

	"github.com/martinsuchenak/rackfab/internal/cidr"
)

// Range is an inclusive span of IPv4 addresses.
type Range struct {
	Network   uint32 `json:"network"`
	Broadcast uint32 `json:"broadcast"`
}

// RangeOf returns the range covered by a prefix.
func RangeOf(network uint32, length int) Range {
	mask := cidr.Mask(length)
	return Range{Network: network & mask, Broadcast: network&mask | ^mask}
}

// Size is the number of addresses in the range.
func (r Range) Size() uint64 {
	return uint64(r.Broadcast) - uint64(r.Network) + 1
}

func (r Range) Overlaps(o Range) bool {
	return r.Network <= o.Broadcast && o.Network <= r.Broadcast
}

// Contains reports whether o lies fully inside r.
func (r Range) Contains(o Range) bool {
	return r.Network <= o.Network && o.Broadcast <= r.Broadcast
}

func (r Range) String() string {
	return cidr.FormatIPv4(r.Network) + "-" + cidr.FormatIPv4(r.Broadcast)
}

// MergeRanges sorts ranges and coalesces overlapping or adjacent spans.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Network != sorted[j].Network {
			return sorted[i].Network < sorted[j].Network
		}
		return sorted[i].Broadcast < sorted[j].Broadcast
	})

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if uint64(r.Network) <= uint64(last.Broadcast)+1 {
			if r.Broadcast > last.Broadcast {
				last.Broadcast = r.Broadcast
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// AllocateNextPrefix returns the lowest block of the given length inside pool
// that overlaps none of the allocated ranges.
func AllocateNextPrefix(pool Range, length int, allocated []Range) (Range, error) {
	return nextFreeBlock(pool, length, MergeRanges(allocated))
}

// nextFreeBlock expects used to be sorted and merged.
func nextFreeBlock(pool Range, length int, used []Range) (Range, error) {
	if length < 0 || length > 32 {
		return Range{}, fmt.Errorf("%w: invalid prefix length %d", cidr.ErrParse, length)
	}

	block := cidr.BlockSize(length)
	limit := uint64(pool.Broadcast)
	candidate := alignUp(uint64(pool.Network), block)

	for {
		end := candidate + block - 1
		if end > limit {
			return Range{}, fmt.Errorf("%w: no free /%d in %s", ErrExhausted, length, pool)
		}

		// First used range that ends at or after the candidate.
		i := sort.Search(len(used), func(i int) bool {
			return uint64(used[i].Broadcast) >= candidate
		})
		if i == len(used) || uint64(used[i].Network) > end {
			return Range{Network: uint32(candidate), Broadcast: uint32(end)}, nil
		}

		next := uint64(used[i].Broadcast) + 1
		if candidate+block > next {
			next = candidate + block
		}
		candidate = alignUp(next, block)
	}
}

func alignUp(v, block uint64) uint64 {
	return (v + block - 1) / block * block
}

// AllocateNextAddress returns the lowest host address of prefix that is not in
// allocated. Prefixes shorter than /31 exclude their network and broadcast
// addresses.
func AllocateNextAddress(prefix Range, length int, allocated map[uint32]struct{}) (uint32, error) {
	lo, hi := UsableRange(prefix, length)
	for a := lo; a <= hi; a++ {
		if _, taken := allocated[uint32(a)]; !taken {
			return uint32(a), nil
		}
	}
	return 0, fmt.Errorf("%w: no free address in %s", ErrExhausted, cidr.Format(prefix.Network, length))
}

// UsableRange returns the assignable host span of a prefix.
func UsableRange(prefix Range, length int) (lo, hi uint64) {
	lo, hi = uint64(prefix.Network), uint64(prefix.Broadcast)
	if length < 31 {
		lo++
		hi--
	}
	return lo, hi
}
