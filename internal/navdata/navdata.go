package navdata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Airport is an airport record from the navigation data set
type Airport struct {
	ICAO  string  `json:"icao"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	ARTCC string  `json:"artcc"`
}

// Waypoint is a named fix with a fixed position
type Waypoint struct {
	ID  string  `json:"waypoint_id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Paths lists the source files of a navigation data set. Empty paths are skipped.
type Paths struct {
	Airports  string
	Waypoints string
	Airways   string
	CDR       string
	PRD       string
}

// Store holds navigation data in memory. It is safe for concurrent use once loaded.
type Store struct {
	mu        sync.RWMutex
	airports  map[string]*Airport
	waypoints map[string]*Waypoint
	airways   map[string][]string
	cdrs      map[string][]CodedRoute
	prds      map[string][]PreferredRoute
	logger    *logger.Logger
}

// NewStore creates an empty navigation data store
func NewStore(log *logger.Logger) *Store {
	return &Store{
		airports:  make(map[string]*Airport),
		waypoints: make(map[string]*Waypoint),
		airways:   make(map[string][]string),
		cdrs:      make(map[string][]CodedRoute),
		prds:      make(map[string][]PreferredRoute),
		logger:    log.Named("navdata"),
	}
}

// Load reads every configured file concurrently into a new Store
func Load(ctx context.Context, paths Paths, log *logger.Logger) (*Store, error) {
	s := NewStore(log)

	var (
		airports  map[string]*Airport
		waypoints map[string]*Waypoint
		airways   map[string][]string
		cdrs      map[string][]CodedRoute
		prds      map[string][]PreferredRoute
	)

	eg, _ := errgroup.WithContext(ctx)
	if paths.Airports != "" {
		eg.Go(func() (err error) {
			airports, err = loadAirports(paths.Airports)
			return err
		})
	}
	if paths.Waypoints != "" {
		eg.Go(func() (err error) {
			waypoints, err = loadWaypoints(paths.Waypoints)
			return err
		})
	}
	if paths.Airways != "" {
		eg.Go(func() (err error) {
			airways, err = loadAirways(paths.Airways)
			return err
		})
	}
	if paths.CDR != "" {
		eg.Go(func() (err error) {
			cdrs, err = loadCodedRoutes(paths.CDR)
			return err
		})
	}
	if paths.PRD != "" {
		eg.Go(func() (err error) {
			prds, err = loadPreferredRoutes(paths.PRD)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if airports != nil {
		s.airports = airports
	}
	if waypoints != nil {
		s.waypoints = waypoints
	}
	if airways != nil {
		s.airways = airways
	}
	if cdrs != nil {
		s.cdrs = cdrs
	}
	if prds != nil {
		s.prds = prds
	}
	s.mu.Unlock()

	s.logger.Info("Navigation data loaded",
		logger.Int("airports", len(s.airports)),
		logger.Int("waypoints", len(s.waypoints)),
		logger.Int("airways", len(s.airways)),
		logger.Int("cdr_pairs", len(s.cdrs)),
		logger.Int("prd_pairs", len(s.prds)))

	return s, nil
}

// FindAirport looks up an airport by ICAO code
func (s *Store) FindAirport(icao string) (*Airport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.airports[strings.ToUpper(icao)]
	return a, ok
}

// FindWaypoint looks up a fix by identifier
func (s *Store) FindWaypoint(id string) (*Waypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.waypoints[strings.ToUpper(id)]
	return w, ok
}

// FindAirway returns the ordered fixes of an airway
func (s *Store) FindAirway(id string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fixes, ok := s.airways[strings.ToUpper(id)]
	return fixes, ok
}

// HasAirways reports whether an airway table was loaded
func (s *Store) HasAirways() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.airways) > 0
}

// AddAirport inserts or replaces an airport
func (s *Store) AddAirport(a Airport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ICAO = strings.ToUpper(a.ICAO)
	s.airports[a.ICAO] = &a
}

// AddWaypoint inserts or replaces a fix
func (s *Store) AddWaypoint(w Waypoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = strings.ToUpper(w.ID)
	s.waypoints[w.ID] = &w
}

// AddAirway inserts or replaces an airway
func (s *Store) AddAirway(id string, fixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.airways[strings.ToUpper(id)] = fixes
}

func loadAirports(path string) (map[string]*Airport, error) {
	t, err := readCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read airports %s: %w", path, err)
	}
	if err := t.require("icao", "lat", "lon"); err != nil {
		return nil, fmt.Errorf("airports %s: %w", path, err)
	}

	airports := make(map[string]*Airport, len(t.rows))
	for _, row := range t.rows {
		icao := strings.ToUpper(t.get(row, "icao"))
		if icao == "" {
			continue
		}
		lat, err := t.float(row, "lat")
		if err != nil {
			return nil, fmt.Errorf("invalid latitude for airport %s: %w", icao, err)
		}
		lon, err := t.float(row, "lon")
		if err != nil {
			return nil, fmt.Errorf("invalid longitude for airport %s: %w", icao, err)
		}
		airports[icao] = &Airport{
			ICAO:  icao,
			Lat:   lat,
			Lon:   lon,
			ARTCC: strings.ToUpper(t.get(row, "artcc")),
		}
	}
	return airports, nil
}

func loadWaypoints(path string) (map[string]*Waypoint, error) {
	t, err := readCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read waypoints %s: %w", path, err)
	}
	if err := t.require("id", "lat", "lon"); err != nil {
		return nil, fmt.Errorf("waypoints %s: %w", path, err)
	}

	waypoints := make(map[string]*Waypoint, len(t.rows))
	for _, row := range t.rows {
		id := strings.ToUpper(t.get(row, "id"))
		if id == "" {
			continue
		}
		lat, err := t.float(row, "lat")
		if err != nil {
			return nil, fmt.Errorf("invalid latitude for waypoint %s: %w", id, err)
		}
		lon, err := t.float(row, "lon")
		if err != nil {
			return nil, fmt.Errorf("invalid longitude for waypoint %s: %w", id, err)
		}
		// First definition wins; duplicates are usually foreign fixes sharing a name.
		if _, exists := waypoints[id]; !exists {
			waypoints[id] = &Waypoint{ID: id, Lat: lat, Lon: lon}
		}
	}
	return waypoints, nil
}

func loadAirways(path string) (map[string][]string, error) {
	t, err := readCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read airways %s: %w", path, err)
	}
	if err := t.require("airway", "seq", "fix"); err != nil {
		return nil, fmt.Errorf("airways %s: %w", path, err)
	}

	type seqFix struct {
		seq int
		fix string
	}
	bySeq := make(map[string][]seqFix)
	for _, row := range t.rows {
		airway := strings.ToUpper(t.get(row, "airway"))
		seq, err := strconv.Atoi(t.get(row, "seq"))
		if err != nil {
			return nil, fmt.Errorf("invalid sequence for airway %s: %w", airway, err)
		}
		bySeq[airway] = append(bySeq[airway], seqFix{seq: seq, fix: strings.ToUpper(t.get(row, "fix"))})
	}

	airways := make(map[string][]string, len(bySeq))
	for airway, entries := range bySeq {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
		fixes := make([]string, len(entries))
		for i, e := range entries {
			fixes[i] = e.fix
		}
		airways[airway] = fixes
	}
	return airways, nil
}
