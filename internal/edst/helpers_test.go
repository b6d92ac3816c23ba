package edst

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/advisory"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store
type memStore struct {
	mu         sync.Mutex
	records    map[string]*Record
	failUpsert map[string]bool
	failDelete map[string]bool
	failAll    bool
}

func newMemStore(records ...*Record) *memStore {
	s := &memStore{
		records:    make(map[string]*Record),
		failUpsert: make(map[string]bool),
		failDelete: make(map[string]bool),
	}
	for _, r := range records {
		s.records[r.Callsign] = r.Clone()
	}
	return s
}

func (s *memStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert[record.Callsign] {
		return errStoreDown
	}
	s.records[record.Callsign] = record.Clone()
	return nil
}

func (s *memStore) Get(ctx context.Context, callsign string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[callsign]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, callsign string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[callsign] {
		return errStoreDown
	}
	delete(s.records, callsign)
	return nil
}

func (s *memStore) All(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Callsign < out[j].Callsign })
	return out, nil
}

func (s *memStore) snapshot() map[string]*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Record, len(s.records))
	for k, r := range s.records {
		out[k] = r.Clone()
	}
	return out
}

func testNavdata() *navdata.Store {
	s := navdata.NewStore(logger.NewNop())
	s.AddAirport(navdata.Airport{ICAO: "KORD", Lat: 41.9786, Lon: -87.9048, ARTCC: "ZAU"})
	s.AddAirport(navdata.Airport{ICAO: "KDEN", Lat: 39.8617, Lon: -104.6731, ARTCC: "ZDV"})
	s.AddAirport(navdata.Airport{ICAO: "KLAX", Lat: 33.9425, Lon: -118.4081, ARTCC: "ZLA"})
	s.AddWaypoint(navdata.Waypoint{ID: "PMPKN", Lat: 41.9, Lon: -88.4})
	s.AddWaypoint(navdata.Waypoint{ID: "DBQ", Lat: 42.4, Lon: -90.7})
	s.AddWaypoint(navdata.Waypoint{ID: "OBH", Lat: 41.37, Lon: -98.35})
	s.AddWaypoint(navdata.Waypoint{ID: "DVV", Lat: 39.89, Lon: -104.62})
	s.AddAirway("J94", []string{"PMPKN", "DBQ", "FOD", "OBH", "DVV"})
	s.AddCodedRoute(navdata.CodedRoute{RouteCode: "ORDDEN1", Dep: "KORD", Dest: "KDEN", Route: "KORD PMPKN J94 OBH KDEN"})
	s.AddPreferredRoute(navdata.PreferredRoute{Dep: "ORD", Dest: "DEN", Route: "PMPKN J94 DVV", Type: "H"})
	return s
}

func testAdvisories() *advisory.Service {
	return advisory.NewService(
		[]advisory.ADR{{ID: "ORD1", DepAirports: []string{"KORD"}, Route: "PMPKN J94"}},
		[]advisory.ADAR{{ID: "ORDDEN", DepAirports: []string{"KORD"}, DestAirports: []string{"KDEN"}, Route: "PMPKN J94 OBH"}},
		logger.NewNop(),
	)
}

func newTestReconciler(store Store, opts Options) *Reconciler {
	nav := testNavdata()
	r := NewReconciler(store, nav, route.NewResolver(nav, 64, time.Hour), nav, testAdvisories(), opts, logger.NewNop())
	r.newAllocator = func(used []string) *Allocator {
		return NewAllocatorWithSource(used, rand.NewSource(42))
	}
	return r
}

// ual123 is on the ground 2nm from KORD
func ual123() feed.Flightplan {
	return feed.Flightplan{
		Callsign:            "UAL123",
		Lat:                 41.95,
		Lon:                 -87.93,
		AircraftFAA:         "H/B738/L",
		AircraftShort:       "B738",
		Departure:           "KORD",
		Arrival:             "KDEN",
		Altitude:            "35000",
		Remarks:             "/V/",
		Route:               "PMPKN J94 OBH",
		AssignedTransponder: "4521",
	}
}

var passTime = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }
