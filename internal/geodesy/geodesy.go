package geodesy

import (
	"github.com/skypies/geo"
)

// Conversion factors
const (
	KMPerStatuteMile  = 1.609344 // Kilometres per statute mile
	MilesToNM         = 0.86898  // Statute miles to nautical miles
	KMToNM            = 0.53996  // Kilometres to nautical miles
	ContinentalLatMin = 20.0
	ContinentalLatMax = 55.0
	ContinentalLonMin = -135.0
	ContinentalLonMax = -40.0
)

// Position is a latitude/longitude pair in decimal degrees.
// It serializes as a [lat, lon] pair to match the record documents.
type Position [2]float64

// NewPosition builds a Position from latitude and longitude
func NewPosition(lat, lon float64) Position {
	return Position{lat, lon}
}

func (p Position) Lat() float64 { return p[0] }
func (p Position) Lon() float64 { return p[1] }

func (p Position) latlong() geo.Latlong {
	return geo.Latlong{Lat: p[0], Long: p[1]}
}

// DistanceMiles returns the great-circle distance in statute miles
func DistanceMiles(a, b Position) float64 {
	return a.latlong().DistKM(b.latlong()) / KMPerStatuteMile
}

// DistanceNM returns the great-circle distance in nautical miles, derived from
// the statute-mile distance with the fixed MilesToNM factor.
func DistanceNM(a, b Position) float64 {
	return DistanceMiles(a, b) * MilesToNM
}

// InContinentalWindow reports whether p lies strictly inside the tracked
// coarse continental window.
func InContinentalWindow(p Position) bool {
	return p.Lat() > ContinentalLatMin && p.Lat() < ContinentalLatMax &&
		p.Lon() > ContinentalLonMin && p.Lon() < ContinentalLonMax
}
