package placement

import (
	"fmt"

	"github.com/martinsuchenak/rackfab/internal/model"
)

// Geometry is the physical shape of a fabric. Every pod gets RowsPerHall
// rows in each hall.
type Geometry struct {
	Halls       int
	RowsPerHall int
	RacksPerRow int
	Pods        int
}

func (g Geometry) pods() int {
	if g.Pods < 1 {
		return 1
	}
	return g.Pods
}

// GenerateLayout enumerates every rack in hall, pod, row, rack order. Each
// row has RacksPerRow leaf racks with one uplink rack inserted at the
// midpoint.
func GenerateLayout(g Geometry) []model.Rack {
	slotsPerRow := g.RacksPerRow + 1
	uplinkSlot := g.RacksPerRow / 2

	var racks []model.Rack
	rowGlobal := 0
	for h := 0; h < g.Halls; h++ {
		hall := fmt.Sprintf("hall%d", h+1)
		for pod := 0; pod < g.pods(); pod++ {
			for r := 0; r < g.RowsPerHall; r++ {
				row := fmt.Sprintf("row%d", pod*g.RowsPerHall+r+1)
				for slot := 0; slot < slotsPerRow; slot++ {
					kind := model.RackLeaf
					if slot == uplinkSlot {
						kind = model.RackUplink
					}
					racks = append(racks, model.Rack{
						Hall:  hall,
						Row:   row,
						Name:  fmt.Sprintf("%s-%s-%02d", hall, row, slot+1),
						Index: rowGlobal*slotsPerRow + slot,
						Kind:  kind,
						Pod:   pod,
					})
				}
				rowGlobal++
			}
		}
	}
	return racks
}

// Filter returns the racks of one kind belonging to pod, in layout order.
// A negative pod matches every pod.
func Filter(racks []model.Rack, kind model.RackKind, pod int) []model.Rack {
	var out []model.Rack
	for _, r := range racks {
		if r.Kind == kind && (pod < 0 || r.Pod == pod) {
			out = append(out, r)
		}
	}
	return out
}

// Placer hands out rack units. It remembers how many devices each rack
// already holds, so a later tier stacks after an earlier one in the same
// rack.
type Placer struct {
	heightU int
	used    map[int]int
}

func NewPlacer(rackHeightU int) *Placer {
	if rackHeightU <= 0 {
		rackHeightU = DefaultRackHeightU
	}
	return &Placer{heightU: rackHeightU, used: make(map[int]int)}
}

// HeightU is the rack height used for positions.
func (p *Placer) HeightU() int {
	return p.heightU
}

// Place puts the next device into rack. It returns nil once the strategy
// runs out of rack units.
func (p *Placer) Place(rack model.Rack, strategy Strategy) *model.RackPlacement {
	n := p.used[rack.Index]
	pos := RackPosition(n, strategy, p.heightU)
	if n >= p.heightU || pos < 1 || pos > p.heightU {
		return nil
	}
	p.used[rack.Index] = n + 1
	return rack.Placement(pos)
}

// RoundRobin places the i-th device of a tier on racks[i mod len(racks)].
func (p *Placer) RoundRobin(racks []model.Rack, i int, strategy Strategy) *model.RackPlacement {
	if len(racks) == 0 {
		return nil
	}
	return p.Place(racks[i%len(racks)], strategy)
}

// PerRack fills racks perRack devices at a time. Devices past the last rack
// are left unplaced.
func (p *Placer) PerRack(racks []model.Rack, i, perRack int, strategy Strategy) *model.RackPlacement {
	if perRack < 1 {
		perRack = 1
	}
	r := i / perRack
	if r >= len(racks) {
		return nil
	}
	return p.Place(racks[r], strategy)
}
