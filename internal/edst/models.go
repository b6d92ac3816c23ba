package edst

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/advisory"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
)

// TimeLayout is the layout of Record.UpdateTime
const TimeLayout = "2006-01-02 15:04:05.000000"

// Record is the persisted EDST state of one flight, keyed by callsign
type Record struct {
	Callsign string `json:"callsign"`
	CID      string `json:"cid"`

	Type      string  `json:"type"`
	Equipment string  `json:"equipment"`
	Beacon    string  `json:"beacon"`
	Dep       string  `json:"dep"`
	DepARTCC  *string `json:"dep_artcc"`
	Dest      string  `json:"dest"`
	Altitude  string  `json:"altitude"`
	Remarks   string  `json:"remarks"`

	Route              string               `json:"route"`
	RouteData          []route.Fix          `json:"route_data"`
	RemainingRoute     string               `json:"remaining_route"`
	RemainingRouteData []route.RemainingFix `json:"remaining_route_data"`

	// Controller annotations. The engine never interprets them.
	Interim  json.RawMessage `json:"interim"`
	Hdg      json.RawMessage `json:"hdg"`
	Spd      json.RawMessage `json:"spd"`
	HoldFix  json.RawMessage `json:"hold_fix"`
	HoldHdg  json.RawMessage `json:"hold_hdg"`
	HoldSpd  json.RawMessage `json:"hold_spd"`
	FreeText string          `json:"free_text"`

	Departing  *bool           `json:"departing"`
	Flightplan feed.Flightplan `json:"flightplan"`

	ADR    []advisory.ADR   `json:"adr"`
	ADAR   []advisory.ADAR  `json:"adar"`
	Routes []PreferredRoute `json:"routes"`

	UpdateTime string `json:"update_time"`
}

// PreferredRoute is a CDR or PRD alternative for a departure/destination pair
type PreferredRoute struct {
	Source    string            `json:"source"`
	Dep       string            `json:"dep"`
	Dest      string            `json:"dest"`
	Route     string            `json:"route"`
	RouteData []route.Fix       `json:"route_data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Preferred route sources
const (
	SourceCDR = "cdr"
	SourcePRD = "prd"
)

// FormatTime renders t in the record time layout, in UTC
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a record time. Times are UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid update_time %q: %w", s, err)
	}
	return t, nil
}

// UpdatedAt returns the parsed update time. ok is false when it is missing
// or malformed.
func (r *Record) UpdatedAt() (time.Time, bool) {
	if r.UpdateTime == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(r.UpdateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Position returns the live position from the flightplan snapshot
func (r *Record) Position() (lat, lon float64) {
	return r.Flightplan.Lat, r.Flightplan.Lon
}

// Clone returns a deep copy of the record. ADR and ADAR entries still share
// their inner slices with the loaded advisories, which are never modified.
func (r *Record) Clone() *Record {
	cp := *r
	cp.DepARTCC = clonePtr(r.DepARTCC)
	cp.Departing = clonePtr(r.Departing)
	cp.RouteData = slices.Clone(r.RouteData)
	cp.RemainingRouteData = slices.Clone(r.RemainingRouteData)
	cp.Interim = bytes.Clone(r.Interim)
	cp.Hdg = bytes.Clone(r.Hdg)
	cp.Spd = bytes.Clone(r.Spd)
	cp.HoldFix = bytes.Clone(r.HoldFix)
	cp.HoldHdg = bytes.Clone(r.HoldHdg)
	cp.HoldSpd = bytes.Clone(r.HoldSpd)
	cp.ADR = slices.Clone(r.ADR)
	cp.ADAR = slices.Clone(r.ADAR)
	if r.Routes != nil {
		cp.Routes = make([]PreferredRoute, len(r.Routes))
		for i, pr := range r.Routes {
			pr.RouteData = slices.Clone(pr.RouteData)
			pr.Metadata = maps.Clone(pr.Metadata)
			cp.Routes[i] = pr
		}
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Patch is a partial record update keyed by JSON field name
type Patch map[string]json.RawMessage

// Has reports whether the patch sets field
func (p Patch) Has(field string) bool {
	_, ok := p[field]
	return ok
}

// engineFields are maintained by reconciliation and cannot be patched
var engineFields = map[string]bool{
	"cid":                  true,
	"update_time":          true,
	"remaining_route":      true,
	"remaining_route_data": true,
}

// Apply merges the patch into a copy of r. The callsign is ignored and the
// engine maintained fields are rejected with ErrInvalidPatch.
func (p Patch) Apply(r *Record) (*Record, error) {
	for k := range p {
		if engineFields[k] {
			return nil, fmt.Errorf("%w: %s cannot be set", ErrInvalidPatch, k)
		}
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	for k, v := range p {
		if k == "callsign" {
			continue
		}
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var out Record
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return &out, nil
}
