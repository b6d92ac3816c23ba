package feed

import (
	"strconv"
	"strings"
	"time"
)

// DefaultSourceURL is the public VATSIM v3 data feed
const DefaultSourceURL = "https://data.vatsim.net/v3/vatsim-data.json"

// RawData is the subset of the VATSIM v3 data feed the service reads
type RawData struct {
	General General `json:"general"`
	Pilots  []Pilot `json:"pilots"`
}

// General holds feed metadata
type General struct {
	Version          int       `json:"version"`
	Reload           int       `json:"reload"`
	Update           string    `json:"update"`
	UpdateTimestamp  time.Time `json:"update_timestamp"`
	ConnectedClients int       `json:"connected_clients"`
	UniqueUsers      int       `json:"unique_users"`
}

// Pilot is a connected pilot in the feed
type Pilot struct {
	CID         int              `json:"cid"`
	Name        string           `json:"name"`
	Callsign    string           `json:"callsign"`
	Server      string           `json:"server"`
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	Altitude    int              `json:"altitude"`
	Groundspeed int              `json:"groundspeed"`
	Transponder string           `json:"transponder"`
	Heading     int              `json:"heading"`
	FlightPlan  *PilotFlightPlan `json:"flight_plan,omitempty"`
	LogonTime   time.Time        `json:"logon_time"`
	LastUpdated time.Time        `json:"last_updated"`
}

// PilotFlightPlan is a filed flight plan as published in the feed
type PilotFlightPlan struct {
	FlightRules         string `json:"flight_rules"`
	Aircraft            string `json:"aircraft"`
	AircraftFAA         string `json:"aircraft_faa"`
	AircraftShort       string `json:"aircraft_short"`
	Departure           string `json:"departure"`
	Arrival             string `json:"arrival"`
	Alternate           string `json:"alternate"`
	CruiseTAS           string `json:"cruise_tas"`
	Altitude            string `json:"altitude"`
	DepTime             string `json:"deptime"`
	EnrouteTime         string `json:"enroute_time"`
	FuelTime            string `json:"fuel_time"`
	Remarks             string `json:"remarks"`
	Route               string `json:"route"`
	RevisionID          int    `json:"revision_id"`
	AssignedTransponder string `json:"assigned_transponder"`
}

// Flightplan is a live flight plan joined with the pilot's current position.
// It is also the raw snapshot stored on each record.
type Flightplan struct {
	Callsign            string  `json:"callsign"`
	CID                 int     `json:"cid"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	Groundspeed         int     `json:"groundspeed"`
	Heading             int     `json:"heading"`
	CurrentAltitude     int     `json:"current_altitude"`
	FlightRules         string  `json:"flight_rules"`
	AircraftFAA         string  `json:"aircraft_faa"`
	AircraftShort       string  `json:"aircraft_short"`
	Departure           string  `json:"departure"`
	Arrival             string  `json:"arrival"`
	Alternate           string  `json:"alternate"`
	CruiseTAS           string  `json:"cruise_tas"`
	Altitude            string  `json:"altitude"`
	DepTime             string  `json:"deptime"`
	Remarks             string  `json:"remarks"`
	Route               string  `json:"route"`
	AssignedTransponder string  `json:"assigned_transponder"`
}

// Convert joins a pilot and its filed flight plan. ok is false when no flight
// plan is filed.
func (p Pilot) Convert() (Flightplan, bool) {
	if p.FlightPlan == nil {
		return Flightplan{}, false
	}
	fp := p.FlightPlan
	return Flightplan{
		Callsign:            strings.ToUpper(strings.TrimSpace(p.Callsign)),
		CID:                 p.CID,
		Lat:                 p.Latitude,
		Lon:                 p.Longitude,
		Groundspeed:         p.Groundspeed,
		Heading:             p.Heading,
		CurrentAltitude:     p.Altitude,
		FlightRules:         fp.FlightRules,
		AircraftFAA:         fp.AircraftFAA,
		AircraftShort:       fp.AircraftShort,
		Departure:           strings.ToUpper(strings.TrimSpace(fp.Departure)),
		Arrival:             strings.ToUpper(strings.TrimSpace(fp.Arrival)),
		Alternate:           fp.Alternate,
		CruiseTAS:           fp.CruiseTAS,
		Altitude:            fp.Altitude,
		DepTime:             fp.DepTime,
		Remarks:             fp.Remarks,
		Route:               fp.Route,
		AssignedTransponder: fp.AssignedTransponder,
	}, true
}

// EquipmentSuffix returns the first character of the last "/" group of the FAA
// aircraft code, e.g. "L" for "H/B738/L"
func (f Flightplan) EquipmentSuffix() string {
	parts := strings.Split(f.AircraftFAA, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" {
		return ""
	}
	return parts[len(parts)-1][:1]
}

// AltitudeFeet parses the filed altitude. Plain numbers are feet; "FL350" and
// "F350" style levels are converted from hundreds of feet.
func (f Flightplan) AltitudeFeet() (int, bool) {
	alt := strings.ToUpper(strings.TrimSpace(f.Altitude))
	if n, err := strconv.Atoi(alt); err == nil {
		return n, true
	}
	for _, prefix := range []string{"FL", "F", "A"} {
		if strings.HasPrefix(alt, prefix) {
			if n, err := strconv.Atoi(alt[len(prefix):]); err == nil {
				return n * 100, true
			}
		}
	}
	return 0, false
}
