package edst

import (
	"math/rand"
	"testing"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
)

func fix(id string, lat, lon float64) route.Fix {
	return route.Fix{ID: id, Pos: geodesy.NewPosition(lat, lon)}
}

func remainingIDs(remaining []route.RemainingFix) []string {
	out := make([]string, len(remaining))
	for i, r := range remaining {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRemainingRouteTieBreak(t *testing.T) {
	routeData := []route.Fix{fix("FIX1", 40, -80), fix("FIX2", 40, -79)}

	got := RemainingRoute(routeData, nil, geodesy.NewPosition(40, -79.5))
	if want := []string{"FIX2"}; !equalIDs(remainingIDs(got), want) {
		t.Fatalf("RemainingRoute() = %v, want %v", remainingIDs(got), want)
	}
	if got[0].Distance <= 0 {
		t.Errorf("distance = %.3f, want positive", got[0].Distance)
	}
}

func TestRemainingRoute(t *testing.T) {
	line := []route.Fix{
		fix("AAA", 40, -80),
		fix("BBB", 40, -79),
		fix("CCC", 40, -78),
	}
	dest := fix("KDST", 40, -77)

	tests := []struct {
		name      string
		routeData []route.Fix
		dest      *route.Fix
		pos       geodesy.Position
		want      []string
	}{
		{"empty route", nil, &dest, geodesy.NewPosition(40, -79), []string{}},
		{"single fix", line[:1], nil, geodesy.NewPosition(41, -81), []string{"AAA"}},
		{"before first fix", line, nil, geodesy.NewPosition(40, -80.3), []string{"BBB", "CCC"}},
		{"between fixes", line, &dest, geodesy.NewPosition(40, -78.4), []string{"CCC", "KDST"}},
		{"past last fix", line, &dest, geodesy.NewPosition(40, -77.2), []string{"KDST"}},
		{"unresolved destination", line, nil, geodesy.NewPosition(40, -78.4), []string{"CCC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemainingRoute(tt.routeData, tt.dest, tt.pos)
			if !equalIDs(remainingIDs(got), tt.want) {
				t.Errorf("RemainingRoute() = %v, want %v", remainingIDs(got), tt.want)
			}
			for _, r := range got {
				if want := geodesy.DistanceNM(r.Pos, tt.pos); r.Distance != want {
					t.Errorf("distance for %s = %.3f, want %.3f", r.ID, r.Distance, want)
				}
			}
		})
	}
}

func TestRemainingRouteDoesNotModifyInput(t *testing.T) {
	routeData := []route.Fix{fix("AAA", 40, -80), fix("BBB", 40, -79)}
	dest := fix("KDST", 40, -77)

	RemainingRoute(routeData, &dest, geodesy.NewPosition(40, -78))
	if len(routeData) != 2 || routeData[1].ID != "BBB" {
		t.Errorf("input route data modified: %+v", routeData)
	}
}

func TestRemainingRouteIsSuffix(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for n := 0; n < 200; n++ {
		size := rng.Intn(8)
		routeData := make([]route.Fix, size)
		for i := range routeData {
			routeData[i] = fix(string(rune('A'+i))+"FIX", 30+rng.Float64()*20, -120+rng.Float64()*40)
		}
		var dest *route.Fix
		if rng.Intn(2) == 0 {
			d := fix("KDST", 30+rng.Float64()*20, -120+rng.Float64()*40)
			dest = &d
		}
		pos := geodesy.NewPosition(30+rng.Float64()*20, -120+rng.Float64()*40)

		got := RemainingRoute(routeData, dest, pos)
		if len(got) > len(routeData)+1 {
			t.Fatalf("RemainingRoute() returned %d fixes for %d route fixes", len(got), len(routeData))
		}

		full := make([]string, 0, size+1)
		for _, f := range routeData {
			full = append(full, f.ID)
		}
		if dest != nil && size > 0 {
			full = append(full, dest.ID)
		}
		ids := remainingIDs(got)
		if !equalIDs(ids, full[len(full)-len(ids):]) {
			t.Fatalf("RemainingRoute() = %v is not a suffix of %v", ids, full)
		}
	}
}
