package edst

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// FlightplanSource provides the live flight plan snapshot
type FlightplanSource interface {
	FetchFlightplans(ctx context.Context) (map[string]feed.Flightplan, error)
}

// BoundarySource provides ARTCC boundaries
type BoundarySource interface {
	Get(artcc string) (*geodesy.Boundary, error)
}

// Notifier is told about record changes after every pass and patch
type Notifier interface {
	PublishUpdates(records []*Record)
	PublishRemovals(callsigns []string)
	PublishPass(summary PassSummary)
}

// PassSummary is the serializable outcome of one pass
type PassSummary struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	DurationMS int64     `json:"duration_ms"`
	Processed  int       `json:"processed"`
	Skipped    int       `json:"skipped"`
	Updated    int       `json:"updated"`
	Rebuilt    int       `json:"rebuilt"`
	Evicted    int       `json:"evicted"`
	Errors     int       `json:"errors"`
}

// Summary converts a pass result into its summary
func (r PassResult) Summary() PassSummary {
	return PassSummary{
		ID:         r.ID,
		Time:       r.Started,
		DurationMS: r.Duration.Milliseconds(),
		Processed:  r.Processed,
		Skipped:    r.Skipped,
		Updated:    len(r.Updated),
		Rebuilt:    len(r.Rebuilt),
		Evicted:    len(r.Evicted),
		Errors:     len(r.Errors),
	}
}

// Status reports the outcome of the most recent pass
type Status struct {
	LastPass    *PassSummary `json:"last_pass,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Healthy     bool         `json:"healthy"`
	Interval    string       `json:"interval"`
	LiveFlights int          `json:"live_flights"`
}

// ServiceConfig tunes the Service
type ServiceConfig struct {
	Interval     time.Duration
	ARTCCRangeNM float64
}

// Service runs reconciliation passes on a schedule and serves record queries
type Service struct {
	reconciler *Reconciler
	store      Store
	source     FlightplanSource
	routes     RouteResolver
	boundaries BoundarySource
	notifiers  []Notifier
	cfg        ServiceConfig
	logger     *logger.Logger

	// passMu serializes passes and patches
	passMu sync.Mutex

	mu          sync.RWMutex
	lastSummary *PassSummary
	lastError   error
	liveSet     map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// NewService creates a new EDST service
func NewService(
	reconciler *Reconciler,
	store Store,
	source FlightplanSource,
	routes RouteResolver,
	boundaries BoundarySource,
	cfg ServiceConfig,
	log *logger.Logger,
	notifiers ...Notifier,
) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.ARTCCRangeNM <= 0 {
		cfg.ARTCCRangeNM = 150
	}
	return &Service{
		reconciler: reconciler,
		store:      store,
		source:     source,
		routes:     routes,
		boundaries: boundaries,
		notifiers:  notifiers,
		cfg:        cfg,
		logger:     log.Named("edst"),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// AddNotifier registers n for every later pass and patch
func (s *Service) AddNotifier(n Notifier) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Start runs an initial pass and then one pass per interval until Stop is
// called or ctx is done
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting EDST service",
		logger.Duration("interval", s.cfg.Interval),
	)

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Initial reconciliation pass failed", logger.Error(err))
	}

	s.wg.Add(1)
	go s.passLoop(ctx)

	return nil
}

// Stop stops the pass loop and waits for a running pass to finish
func (s *Service) Stop() {
	s.logger.Info("Stopping EDST service")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("EDST service stopped")
}

func (s *Service) passLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Reconciliation pass failed", logger.Error(err))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce fetches the live feed and performs one reconciliation pass
func (s *Service) RunOnce(ctx context.Context) (PassResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	passID := uuid.NewString()
	log := s.logger.With(logger.String("pass_id", passID))

	flightplans, err := s.source.FetchFlightplans(ctx)
	if err != nil {
		s.setError(err)
		return PassResult{ID: passID}, fmt.Errorf("failed to fetch flightplans: %w", err)
	}

	all, err := s.store.All(ctx)
	if err != nil {
		s.setError(err)
		return PassResult{ID: passID}, fmt.Errorf("failed to load records: %w", err)
	}
	records := make(map[string]*Record, len(all))
	for _, rec := range all {
		records[rec.Callsign] = rec
	}

	result, err := s.reconciler.Run(ctx, flightplans, records, s.now())
	result.ID = passID
	if err != nil {
		s.setError(err)
		return result, err
	}

	summary := result.Summary()
	live := make(map[string]bool, len(flightplans))
	for cs := range flightplans {
		live[cs] = true
	}

	s.mu.Lock()
	s.lastSummary = &summary
	s.lastError = nil
	s.liveSet = live
	s.mu.Unlock()

	log.Info("Reconciliation pass complete",
		logger.Int("flightplans", len(flightplans)),
		logger.Int("processed", summary.Processed),
		logger.Int("updated", summary.Updated),
		logger.Int("rebuilt", summary.Rebuilt),
		logger.Int("evicted", summary.Evicted),
		logger.Int("errors", summary.Errors),
		logger.Duration("duration", result.Duration),
	)

	for _, n := range s.notifiers {
		if upserted := result.Upserted(); len(upserted) > 0 {
			n.PublishUpdates(upserted)
		}
		if len(result.Evicted) > 0 {
			n.PublishRemovals(result.Evicted)
		}
		n.PublishPass(summary)
	}

	return result, nil
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}

// Status returns the outcome of the most recent pass
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Healthy:     s.lastSummary != nil && s.lastError == nil,
		Interval:    s.cfg.Interval.String(),
		LiveFlights: len(s.liveSet),
	}
	if s.lastSummary != nil {
		summary := *s.lastSummary
		st.LastPass = &summary
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

// AllEntries returns every record ordered by callsign
func (s *Service) AllEntries(ctx context.Context) ([]*Record, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Callsign < records[j].Callsign })
	return records, nil
}

// GetEntry returns the record for a callsign
func (s *Service) GetEntry(ctx context.Context, callsign string) (*Record, error) {
	return s.store.Get(ctx, strings.ToUpper(callsign))
}

// UpdateEntry applies a patch to a record. Setting route also resets the
// remaining route to the whole new route, expanding it when the patch carries
// no route_data.
func (s *Service) UpdateEntry(ctx context.Context, callsign string, patch Patch) (*Record, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	callsign = strings.ToUpper(callsign)
	existing, err := s.store.Get(ctx, callsign)
	if err != nil {
		return nil, err
	}

	rec, err := patch.Apply(existing)
	if err != nil {
		return nil, err
	}

	if patch.Has("route") {
		rec.RemainingRoute = rec.Route
		if !patch.Has("route_data") {
			rec.RouteData = s.routes.RouteData(s.routes.ExpandRoute(strings.ReplaceAll(rec.Route, ".", " ")))
		}
		pos := geodesy.NewPosition(rec.Position())
		rec.RemainingRouteData = make([]route.RemainingFix, len(rec.RouteData))
		for i, f := range rec.RouteData {
			rec.RemainingRouteData[i] = route.RemainingFix{Fix: f, Distance: geodesy.DistanceNM(f.Pos, pos)}
		}
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}

	for _, n := range s.notifiers {
		n.PublishUpdates([]*Record{rec})
	}
	return rec, nil
}

// ARTCCEntries returns the records of live flights within the configured
// range of an ARTCC boundary
func (s *Service) ARTCCEntries(ctx context.Context, artcc string) ([]*Record, error) {
	if s.boundaries == nil {
		return nil, fmt.Errorf("no boundaries configured")
	}
	boundary, err := s.boundaries.Get(artcc)
	if err != nil {
		return nil, err
	}

	live, err := s.liveCallsigns(ctx)
	if err != nil {
		return nil, err
	}

	records, err := s.AllEntries(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0)
	for _, rec := range records {
		if !live[rec.Callsign] {
			continue
		}
		if geodesy.WithinRange(geodesy.NewPosition(rec.Position()), boundary, s.cfg.ARTCCRangeNM) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// liveCallsigns returns the callsigns of the last pass, fetching the feed when
// no pass has completed yet
func (s *Service) liveCallsigns(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	live := s.liveSet
	s.mu.RUnlock()
	if live != nil {
		return live, nil
	}

	flightplans, err := s.source.FetchFlightplans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flightplans: %w", err)
	}
	live = make(map[string]bool, len(flightplans))
	for cs := range flightplans {
		live[cs] = true
	}
	return live, nil
}

// IsNotFound reports whether err means a record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
