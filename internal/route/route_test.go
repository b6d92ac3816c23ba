package route

import (
	"reflect"
	"testing"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

func testNavdata() *navdata.Store {
	s := navdata.NewStore(logger.NewNop())
	s.AddWaypoint(navdata.Waypoint{ID: "PMPKN", Lat: 41.9, Lon: -88.4})
	s.AddWaypoint(navdata.Waypoint{ID: "DBQ", Lat: 42.4, Lon: -90.7})
	s.AddWaypoint(navdata.Waypoint{ID: "OBH", Lat: 41.37, Lon: -98.35})
	s.AddWaypoint(navdata.Waypoint{ID: "DVV", Lat: 39.89, Lon: -104.62})
	s.AddAirway("J94", []string{"PMPKN", "DBQ", "FOD", "OBH", "DVV"})
	return s
}

func TestFormatRoute(t *testing.T) {
	r := NewResolver(testNavdata(), 16, time.Minute)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"fixes only", "pmpkn dbq obh", "PMPKN..DBQ..OBH"},
		{"airway", "PMPKN J94 OBH DVV", "PMPKN.J94.OBH..DVV"},
		{"dct dropped", "PMPKN DCT OBH", "PMPKN..OBH"},
		{"speed level dropped", "N0450F350 PMPKN/N0450F370 J94 OBH", "PMPKN.J94.OBH"},
		{"already formatted", "PMPKN.J94.OBH..DVV", "PMPKN.J94.OBH..DVV"},
		{"unknown airway pattern treated as fix", "PMPKN J80 OBH", "PMPKN..J80..OBH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.FormatRoute(tt.in); got != tt.want {
				t.Errorf("FormatRoute(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatRouteWithoutAirwayTable(t *testing.T) {
	r := NewResolver(nil, 0, time.Minute)
	if got, want := r.FormatRoute("ABC J80 DEF"), "ABC.J80.DEF"; got != want {
		t.Errorf("FormatRoute() = %q, want %q", got, want)
	}
}

func TestFormatRouteIdempotent(t *testing.T) {
	r := NewResolver(testNavdata(), 16, time.Minute)

	routes := []string{
		"PMPKN J94 OBH DVV",
		"KORD PMPKN DCT DBQ J94 DVV KDEN",
		"pmpkn..dbq...obh",
		"N0460F350 PMPKN J94 DVV/N0440F370",
	}
	for _, raw := range routes {
		once := r.FormatRoute(raw)
		twice := r.FormatRoute(once)
		if once != twice {
			t.Errorf("FormatRoute not idempotent for %q: %q then %q", raw, once, twice)
		}
		if !reflect.DeepEqual(r.ExpandRoute(raw), r.ExpandRoute(once)) {
			t.Errorf("ExpandRoute differs between raw and formatted %q", raw)
		}
	}
}

func TestExpandRoute(t *testing.T) {
	r := NewResolver(testNavdata(), 16, time.Minute)

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"forward", "PMPKN J94 OBH", []string{"PMPKN", "DBQ", "FOD", "OBH"}},
		{"reverse", "DVV J94 DBQ", []string{"DVV", "OBH", "FOD", "DBQ"}},
		{"unknown entry", "XYZ J94 OBH", []string{"XYZ", "OBH"}},
		{"unknown airway omitted", "PMPKN J80 OBH", []string{"PMPKN", "J80", "OBH"}},
		{"dangling airway", "PMPKN J94", []string{"PMPKN"}},
		{"formatted text", "KORD..PMPKN.J94.DBQ..KDEN", []string{"KORD", "PMPKN", "DBQ", "KDEN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ExpandRoute(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandRoute(%q) = %v, want %v", tt.in, got, tt.want)
			}
			// cached result must not alias the caller's slice
			if len(got) > 0 {
				got[0] = "MUTATED"
				if again := r.ExpandRoute(tt.in); again[0] == "MUTATED" {
					t.Error("ExpandRoute returned shared cache storage")
				}
			}
		})
	}
}

func TestRouteData(t *testing.T) {
	r := NewResolver(testNavdata(), 16, time.Minute)

	data := r.RouteData([]string{"KORD", "PMPKN", "FOD", "OBH"})
	if len(data) != 2 {
		t.Fatalf("RouteData() returned %d fixes, want 2: %+v", len(data), data)
	}
	if data[0].ID != "PMPKN" || data[0].Pos.Lat() != 41.9 || data[0].Pos.Lon() != -88.4 {
		t.Errorf("first fix = %+v", data[0])
	}
	if data[1].ID != "OBH" {
		t.Errorf("second fix = %+v, want OBH", data[1])
	}
}

func TestFormatRemainingRoute(t *testing.T) {
	r := NewResolver(testNavdata(), 16, time.Minute)

	remaining := func(ids ...string) []RemainingFix {
		out := make([]RemainingFix, len(ids))
		for i, id := range ids {
			out[i] = RemainingFix{Fix: Fix{ID: id}}
		}
		return out
	}

	tests := []struct {
		name      string
		route     string
		remaining []RemainingFix
		want      string
	}{
		{"no remaining", "PMPKN.J94.OBH..DVV", nil, "PMPKN.J94.OBH..DVV"},
		{"cut at named fix", "PMPKN.J94.OBH..DVV", remaining("OBH", "DVV"), "OBH..DVV"},
		{"next fix inside airway", "PMPKN.J94.OBH..DVV", remaining("FOD", "OBH", "DVV"), "FOD..OBH..DVV"},
		{"nothing in common", "PMPKN.J94.OBH", remaining("KDEN"), "PMPKN.J94.OBH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.FormatRemainingRoute(tt.route, tt.remaining); got != tt.want {
				t.Errorf("FormatRemainingRoute() = %q, want %q", got, tt.want)
			}
		})
	}
}
