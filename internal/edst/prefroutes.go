package edst

import (
	"context"
	"regexp"
	"strings"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
)

// PreferredRouteSource looks up published CDRs and PRDs
type PreferredRouteSource interface {
	FindCodedRoutes(dep, dest string) []navdata.CodedRoute
	FindPreferredRoutes(dep, dest string) []navdata.PreferredRoute
}

// PreferredRouteCache memoizes preferred routes per ordered airport pair for
// the lifetime of one pass
type PreferredRouteCache struct {
	source PreferredRouteSource
	routes RouteResolver
	cache  map[string][]PreferredRoute
}

// NewPreferredRouteCache creates an empty cache
func NewPreferredRouteCache(source PreferredRouteSource, routes RouteResolver) *PreferredRouteCache {
	return &PreferredRouteCache{
		source: source,
		routes: routes,
		cache:  make(map[string][]PreferredRoute),
	}
}

// Get returns the CDRs for (dep, dest) followed by the PRDs for the same pair
// with the leading K stripped. Every entry carries its resolved route data.
func (c *PreferredRouteCache) Get(ctx context.Context, dep, dest string) ([]PreferredRoute, error) {
	key := dep + "_" + dest
	if routes, ok := c.cache[key]; ok {
		return routes, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	routes := make([]PreferredRoute, 0)
	if c.source != nil {
		airports := airportPattern(dep, dest)
		for _, r := range c.source.FindCodedRoutes(dep, dest) {
			text := r.Route
			if airports != nil {
				text = airports.ReplaceAllString(text, "")
			}
			routes = append(routes, PreferredRoute{
				Source:    SourceCDR,
				Dep:       r.Dep,
				Dest:      r.Dest,
				Route:     c.routes.FormatRoute(text),
				RouteData: c.routes.RouteData(c.routes.ExpandRoute(r.Route)),
				Metadata: compact(map[string]string{
					"rcode":     r.RouteCode,
					"dep_fix":   r.DepFix,
					"dep_artcc": r.DepARTCC,
					"arr_artcc": r.ArrARTCC,
					"artccs":    r.TraversedARTCCs,
					"coord_req": r.CoordinationRequired,
					"play":      r.Play,
					"nav_eqp":   r.NavEqp,
				}),
			})
		}

		for _, r := range c.source.FindPreferredRoutes(stripFacility(dep), stripFacility(dest)) {
			routes = append(routes, PreferredRoute{
				Source:    SourcePRD,
				Dep:       r.Dep,
				Dest:      r.Dest,
				Route:     c.routes.FormatRoute(r.Route),
				RouteData: c.routes.RouteData(c.routes.ExpandRoute(r.Route)),
				Metadata: compact(map[string]string{
					"type":      r.Type,
					"area":      r.Area,
					"altitude":  r.Altitude,
					"aircraft":  r.Aircraft,
					"direction": r.Direction,
					"seq":       r.Sequence,
					"hours1":    r.Hours1,
					"hours2":    r.Hours2,
					"hours3":    r.Hours3,
					"dep_artcc": r.DepARTCC,
					"arr_artcc": r.ArrARTCC,
				}),
			})
		}
	}

	c.cache[key] = routes
	return routes, nil
}

// Len returns the number of cached airport pairs
func (c *PreferredRouteCache) Len() int {
	return len(c.cache)
}

func stripFacility(code string) string {
	return strings.TrimPrefix(code, "K")
}

// airportPattern matches either airport identifier anywhere in route text
func airportPattern(dep, dest string) *regexp.Regexp {
	var alts []string
	for _, code := range []string{dep, dest} {
		if code != "" {
			alts = append(alts, regexp.QuoteMeta(code))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(strings.Join(alts, "|"))
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
