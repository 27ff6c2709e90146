// Package placement lays out halls, rows and racks for a fabric, puts
// devices into rack units and estimates cable lengths between them.
package placement

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/martinsuchenak/rackfab/internal/model"
)

const (
	// RackSlotCM is the floor width of one rack slot in a row.
	RackSlotCM = 60.0
	// UHeightCM is the height of one rack unit.
	UHeightCM = 4.445
	// DefaultRackHeightU is used when a request does not set a rack height.
	DefaultRackHeightU = 42
)

var ErrUnknownStrategy = errors.New("unknown placement strategy")

// Strategy decides where in a rack devices are stacked.
type Strategy string

const (
	Top    Strategy = "top"
	Middle Strategy = "middle"
	Bottom Strategy = "bottom"
)

// ParseStrategy accepts top, middle or bottom. Empty means bottom.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case Top:
		return Top, nil
	case Middle:
		return Middle, nil
	case Bottom, "":
		return Bottom, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStrategy, s)
}

// RackPosition returns the rack unit of the index-th device placed in a rack.
func RackPosition(index int, strategy Strategy, rackHeightU int) int {
	switch strategy {
	case Top:
		return rackHeightU - index
	case Middle:
		return rackHeightU/2 + index
	default:
		return index + 1
	}
}

// CableLength estimates the cable run in meters between two placed devices.
// Racks are addressed by their global slot index; each row holds
// racksPerRow leaf racks plus one uplink rack. Cables leave a rack through
// the overhead tray, so devices in different racks pay the climb to the top
// of both racks. Returns nil if either side is unplaced.
func CableLength(a, b *model.RackPlacement, racksPerRow int, rowSpacingCM, slackPct float64, rackHeightU int) *float64 {
	if a == nil || b == nil {
		return nil
	}
	if rackHeightU <= 0 {
		rackHeightU = DefaultRackHeightU
	}

	slotsPerRow := racksPerRow + 1
	slotA, rowA := a.RackIndex%slotsPerRow, a.RackIndex/slotsPerRow
	slotB, rowB := b.RackIndex%slotsPerRow, b.RackIndex/slotsPerRow

	var horizontal float64
	if rowA == rowB {
		horizontal = float64(abs(slotA-slotB)) * RackSlotCM
	} else {
		horizontal = float64(slotA+slotB)*RackSlotCM + float64(abs(rowA-rowB))*rowSpacingCM
	}

	var vertical float64
	if a.RackIndex == b.RackIndex {
		vertical = float64(abs(a.Position-b.Position)) * UHeightCM
	} else {
		vertical = float64(rackHeightU-a.Position)*UHeightCM + float64(rackHeightU-b.Position)*UHeightCM
	}

	meters := (horizontal + vertical) * (1 + slackPct/100) / 100
	meters = math.Round(meters*10) / 10
	return &meters
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
