package geodesy

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// Boundary is an airspace boundary reprojected once into web mercator (EPSG:3857)
type Boundary struct {
	geographic orb.Geometry
	projected  orb.Geometry
}

// NewBoundary wraps a WGS84 geometry
func NewBoundary(g orb.Geometry) *Boundary {
	return &Boundary{
		geographic: g,
		projected:  project.Geometry(orb.Clone(g), project.WGS84.ToMercator),
	}
}

// ParseBoundary decodes a GeoJSON FeatureCollection, Feature or bare geometry.
// For collections, all polygonal features are merged into one MultiPolygon.
func ParseBoundary(data []byte) (*Boundary, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse boundary: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse boundary feature collection: %w", err)
		}
		var mp orb.MultiPolygon
		for _, f := range fc.Features {
			switch g := f.Geometry.(type) {
			case orb.Polygon:
				mp = append(mp, g)
			case orb.MultiPolygon:
				mp = append(mp, g...)
			}
		}
		if len(mp) == 0 {
			return nil, fmt.Errorf("boundary feature collection has no polygons")
		}
		return NewBoundary(mp), nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse boundary feature: %w", err)
		}
		return NewBoundary(f.Geometry), nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse boundary geometry: %w", err)
		}
		return NewBoundary(g.Geometry()), nil
	}
}

// Geometry returns the boundary in geographic coordinates
func (b *Boundary) Geometry() orb.Geometry {
	return b.geographic
}

// DistanceNM returns the planar distance between p and the boundary measured in
// web mercator, converted from kilometres with the fixed KMToNM factor.
// Points inside the boundary are at distance 0.
func (b *Boundary) DistanceNM(p Position) float64 {
	pt := project.Point(orb.Point{p.Lon(), p.Lat()}, project.WGS84.ToMercator)

	switch g := b.projected.(type) {
	case orb.Polygon:
		if planar.PolygonContains(g, pt) {
			return 0
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(g, pt) {
			return 0
		}
	}

	meters := planar.DistanceFrom(b.projected, pt)
	return meters / 1000 * KMToNM
}

// WithinRange reports whether p is strictly closer than thresholdNM to the boundary
func WithinRange(p Position, b *Boundary, thresholdNM float64) bool {
	if b == nil {
		return false
	}
	return b.DistanceNM(p) < thresholdNM
}
