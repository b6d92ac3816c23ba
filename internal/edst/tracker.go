package edst

import (
	"sort"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
)

// RemainingRoute returns the part of routeData still ahead of an aircraft at
// pos. dest, when resolved, is appended as the terminal fix.
//
// The next fix is the later, in route order, of the two fixes nearest to the
// aircraft, so a fix it has just passed is not selected again.
func RemainingRoute(routeData []route.Fix, dest *route.Fix, pos geodesy.Position) []route.RemainingFix {
	if len(routeData) == 0 {
		return []route.RemainingFix{}
	}

	fixes := make([]route.Fix, len(routeData), len(routeData)+1)
	copy(fixes, routeData)
	if dest != nil {
		fixes = append(fixes, *dest)
	}

	type ranked struct {
		id       string
		distance float64
	}
	byDistance := make([]ranked, len(fixes))
	for i, f := range fixes {
		byDistance[i] = ranked{id: f.ID, distance: geodesy.DistanceNM(f.Pos, pos)}
	}
	sort.SliceStable(byDistance, func(i, j int) bool {
		return byDistance[i].distance < byDistance[j].distance
	})

	distances := make(map[string]float64, len(byDistance))
	for _, r := range byDistance {
		distances[r.id] = r.distance
	}

	next := byDistance[0].id
	if len(byDistance) > 1 {
		second := byDistance[1].id
		if routeIndex(fixes, second) > routeIndex(fixes, next) {
			next = second
		}
	}

	start := routeIndex(fixes, next)
	remaining := make([]route.RemainingFix, 0, len(fixes)-start)
	for _, f := range fixes[start:] {
		remaining = append(remaining, route.RemainingFix{Fix: f, Distance: distances[f.ID]})
	}
	return remaining
}

// routeIndex is the position of the first fix named id
func routeIndex(fixes []route.Fix, id string) int {
	for i, f := range fixes {
		if f.ID == id {
			return i
		}
	}
	return -1
}
