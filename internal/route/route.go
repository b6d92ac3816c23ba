package route

import (
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
)

// Fix is a resolved point on a route
type Fix struct {
	ID  string           `json:"fix"`
	Pos geodesy.Position `json:"pos"`
}

// RemainingFix is a route fix still ahead of the aircraft
type RemainingFix struct {
	Fix
	Distance float64 `json:"distance"`
}

var (
	airwayPattern     = regexp.MustCompile(`^[A-Z]{1,2}\d{1,4}[A-Z]?$`)
	speedLevelPattern = regexp.MustCompile(`^[NMK]\d{3,4}[FASM]\d{3,4}$`)
)

// Navdata is the subset of the navigation data store used to resolve routes
type Navdata interface {
	FindWaypoint(id string) (*navdata.Waypoint, bool)
	FindAirway(id string) ([]string, bool)
	HasAirways() bool
}

// Resolver formats, expands and resolves route text
type Resolver struct {
	nav       Navdata
	expansion *expirable.LRU[string, []string]
}

// NewResolver creates a Resolver. Route expansions are memoized in an LRU of
// cacheSize entries that expire after ttl.
func NewResolver(nav Navdata, cacheSize int, ttl time.Duration) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Resolver{
		nav:       nav,
		expansion: expirable.NewLRU[string, []string](cacheSize, nil, ttl),
	}
}

// tokens splits route text into canonical tokens: upper-cased, split on
// whitespace and dots, DCT dropped, speed/level groups removed.
func tokens(text string) []string {
	fields := strings.Fields(strings.ReplaceAll(strings.ToUpper(text), ".", " "))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if i := strings.IndexByte(f, '/'); i >= 0 {
			f = f[:i]
		}
		if f == "" || f == "DCT" || speedLevelPattern.MatchString(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *Resolver) isAirway(token string) bool {
	if !airwayPattern.MatchString(token) {
		return false
	}
	if r.nav == nil || !r.nav.HasAirways() {
		return true
	}
	_, ok := r.nav.FindAirway(token)
	return ok
}

// FormatRoute returns route text in display form: fixes joined with ".."
// and airways bracketed by ".". Formatting is idempotent.
func (r *Resolver) FormatRoute(text string) string {
	toks := tokens(text)
	if len(toks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(toks[0])
	prevAirway := r.isAirway(toks[0])
	for _, tok := range toks[1:] {
		airway := r.isAirway(tok)
		if airway || prevAirway {
			b.WriteByte('.')
		} else {
			b.WriteString("..")
		}
		b.WriteString(tok)
		prevAirway = airway
	}
	return b.String()
}

// ExpandRoute returns the fix identifiers of a route with every airway replaced
// by the fixes flown between its entry and exit fix. Airways that cannot be
// resolved are omitted.
func (r *Resolver) ExpandRoute(text string) []string {
	toks := tokens(text)
	key := strings.Join(toks, " ")
	if cached, ok := r.expansion.Get(key); ok {
		return append([]string(nil), cached...)
	}

	fixes := make([]string, 0, len(toks))
	for i, tok := range toks {
		if !r.isAirway(tok) {
			fixes = append(fixes, tok)
			continue
		}
		if i == 0 || i == len(toks)-1 || r.nav == nil {
			continue
		}
		airway, ok := r.nav.FindAirway(tok)
		if !ok {
			continue
		}
		fixes = append(fixes, segment(airway, toks[i-1], toks[i+1])...)
	}

	r.expansion.Add(key, fixes)
	return append([]string(nil), fixes...)
}

// segment returns the airway fixes strictly between entry and exit, in the
// direction of flight
func segment(airway []string, entry, exit string) []string {
	from, to := -1, -1
	for i, fix := range airway {
		if fix == entry && from < 0 {
			from = i
		}
		if fix == exit && to < 0 {
			to = i
		}
	}
	if from < 0 || to < 0 || from == to {
		return nil
	}

	var out []string
	if from < to {
		out = append(out, airway[from+1:to]...)
	} else {
		for i := from - 1; i > to; i-- {
			out = append(out, airway[i])
		}
	}
	return out
}

// RouteData resolves fix identifiers to positions, skipping unknown fixes
func (r *Resolver) RouteData(fixes []string) []Fix {
	data := make([]Fix, 0, len(fixes))
	if r.nav == nil {
		return data
	}
	for _, id := range fixes {
		if wp, ok := r.nav.FindWaypoint(id); ok {
			data = append(data, Fix{ID: id, Pos: geodesy.NewPosition(wp.Lat, wp.Lon)})
		}
	}
	return data
}

// FormatRemainingRoute cuts a formatted route at the first remaining fix it
// contains. The next fix is prepended when the route does not name it.
func (r *Resolver) FormatRemainingRoute(route string, remaining []RemainingFix) string {
	split := strings.Fields(strings.ReplaceAll(route, ".", " "))
	if len(remaining) > 0 {
		for _, rf := range remaining {
			idx := indexOf(split, rf.ID)
			if idx < 0 {
				continue
			}
			split = split[idx:]
			if indexOf(split, remaining[0].ID) < 0 {
				split = append([]string{remaining[0].ID}, split...)
			}
			break
		}
	}
	return r.FormatRoute(strings.Join(split, " "))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
