package navdata

import (
	"fmt"
	"strings"
)

// CodedRoute is an FAA coded departure route (CDR)
type CodedRoute struct {
	RouteCode            string `json:"rcode"`
	Dep                  string `json:"dep"`
	Dest                 string `json:"dest"`
	DepFix               string `json:"dep_fix,omitempty"`
	Route                string `json:"route"`
	DepARTCC             string `json:"dep_artcc,omitempty"`
	ArrARTCC             string `json:"arr_artcc,omitempty"`
	TraversedARTCCs      string `json:"traversed_artccs,omitempty"`
	CoordinationRequired string `json:"coordination_required,omitempty"`
	Play                 string `json:"play,omitempty"`
	NavEqp               string `json:"nav_eqp,omitempty"`
}

// PreferredRoute is an FAA preferred route (PRD). Airport codes are stored
// without the leading facility character, as published.
type PreferredRoute struct {
	Dep       string `json:"dep"`
	Dest      string `json:"dest"`
	Route     string `json:"route"`
	Hours1    string `json:"hours1,omitempty"`
	Hours2    string `json:"hours2,omitempty"`
	Hours3    string `json:"hours3,omitempty"`
	Type      string `json:"type,omitempty"`
	Area      string `json:"area,omitempty"`
	Altitude  string `json:"altitude,omitempty"`
	Aircraft  string `json:"aircraft,omitempty"`
	Direction string `json:"direction,omitempty"`
	Sequence  string `json:"seq,omitempty"`
	DepARTCC  string `json:"dep_artcc,omitempty"`
	ArrARTCC  string `json:"arr_artcc,omitempty"`
}

func pairKey(dep, dest string) string {
	return strings.ToUpper(dep) + "_" + strings.ToUpper(dest)
}

// FindCodedRoutes returns the CDRs for the exact (dep, dest) pair
func (s *Store) FindCodedRoutes(dep, dest string) []CodedRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routes := s.cdrs[pairKey(dep, dest)]
	out := make([]CodedRoute, len(routes))
	copy(out, routes)
	return out
}

// FindPreferredRoutes returns the PRDs for a pair of airport codes given
// without their leading facility character
func (s *Store) FindPreferredRoutes(dep, dest string) []PreferredRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routes := s.prds[pairKey(dep, dest)]
	out := make([]PreferredRoute, len(routes))
	copy(out, routes)
	return out
}

// AddCodedRoute inserts a CDR
func (s *Store) AddCodedRoute(r CodedRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(r.Dep, r.Dest)
	s.cdrs[key] = append(s.cdrs[key], r)
}

// AddPreferredRoute inserts a PRD
func (s *Store) AddPreferredRoute(r PreferredRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(r.Dep, r.Dest)
	s.prds[key] = append(s.prds[key], r)
}

func loadCodedRoutes(path string) (map[string][]CodedRoute, error) {
	t, err := readCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CDRs %s: %w", path, err)
	}
	if err := t.require("orig", "dest", "route string"); err != nil {
		return nil, fmt.Errorf("CDRs %s: %w", path, err)
	}

	routes := make(map[string][]CodedRoute)
	for _, row := range t.rows {
		r := CodedRoute{
			RouteCode:            t.get(row, "rcode"),
			Dep:                  strings.ToUpper(t.get(row, "orig")),
			Dest:                 strings.ToUpper(t.get(row, "dest")),
			DepFix:               t.get(row, "depfix"),
			Route:                t.get(row, "route string"),
			DepARTCC:             t.get(row, "dcntr"),
			ArrARTCC:             t.get(row, "acntr"),
			TraversedARTCCs:      t.get(row, "tcntrs"),
			CoordinationRequired: t.get(row, "coordreq"),
			Play:                 t.get(row, "play"),
			NavEqp:               t.get(row, "naveqp"),
		}
		if r.Dep == "" || r.Dest == "" || r.Route == "" {
			continue
		}
		key := pairKey(r.Dep, r.Dest)
		routes[key] = append(routes[key], r)
	}
	return routes, nil
}

func loadPreferredRoutes(path string) (map[string][]PreferredRoute, error) {
	t, err := readCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PRDs %s: %w", path, err)
	}
	if err := t.require("orig", "dest", "route string"); err != nil {
		return nil, fmt.Errorf("PRDs %s: %w", path, err)
	}

	routes := make(map[string][]PreferredRoute)
	for _, row := range t.rows {
		r := PreferredRoute{
			Dep:       strings.ToUpper(t.get(row, "orig")),
			Dest:      strings.ToUpper(t.get(row, "dest")),
			Route:     t.get(row, "route string"),
			Hours1:    t.get(row, "hours1"),
			Hours2:    t.get(row, "hours2"),
			Hours3:    t.get(row, "hours3"),
			Type:      t.get(row, "type"),
			Area:      t.get(row, "area"),
			Altitude:  t.get(row, "altitude"),
			Aircraft:  t.get(row, "aircraft"),
			Direction: t.get(row, "direction"),
			Sequence:  t.get(row, "seq"),
			DepARTCC:  t.get(row, "dcntr"),
			ArrARTCC:  t.get(row, "acntr"),
		}
		if r.Dep == "" || r.Dest == "" || r.Route == "" {
			continue
		}
		key := pairKey(r.Dep, r.Dest)
		routes[key] = append(routes[key], r)
	}
	return routes, nil
}
