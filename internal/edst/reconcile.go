package edst

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/advisory"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

// Freshness modes
const (
	// FreshnessStrict treats a record as fresh when it was updated within the TTL
	FreshnessStrict = "strict"
	// FreshnessLegacy treats any record not dated more than one TTL in the
	// future as fresh, so matching records are always updated incrementally
	FreshnessLegacy = "legacy"
)

// Defaults
const (
	DefaultRecordTTL         = 30 * time.Minute
	DefaultDepartingRadiusNM = 20.0
)

// Store persists records keyed by callsign
type Store interface {
	Upsert(ctx context.Context, record *Record) error
	Get(ctx context.Context, callsign string) (*Record, error)
	Delete(ctx context.Context, callsign string) error
	All(ctx context.Context) ([]*Record, error)
}

// AirportLookup resolves airports by ICAO code
type AirportLookup interface {
	FindAirport(icao string) (*navdata.Airport, bool)
}

// RouteResolver formats and resolves route text
type RouteResolver interface {
	FormatRoute(text string) string
	ExpandRoute(text string) []string
	RouteData(fixes []string) []route.Fix
	FormatRemainingRoute(route string, remaining []route.RemainingFix) string
}

// AdvisorySource returns the advisories a flight plan is eligible for
type AdvisorySource interface {
	EligibleADR(fp feed.Flightplan) []advisory.ADR
	EligibleADAR(fp feed.Flightplan) []advisory.ADAR
}

// Options tune a Reconciler
type Options struct {
	RecordTTL         time.Duration
	DepartingRadiusNM float64
	FreshnessMode     string
}

// PassResult summarizes one reconciliation pass
type PassResult struct {
	ID        string
	Started   time.Time
	Duration  time.Duration
	Processed int
	Skipped   int
	Updated   []*Record
	Rebuilt   []*Record
	Evicted   []string
	Errors    map[string]error
}

// Upserted returns every record written during the pass
func (r PassResult) Upserted() []*Record {
	out := make([]*Record, 0, len(r.Updated)+len(r.Rebuilt))
	out = append(out, r.Updated...)
	return append(out, r.Rebuilt...)
}

// Reconciler reconciles live flight plans against persisted records
type Reconciler struct {
	store      Store
	airports   AirportLookup
	routes     RouteResolver
	prefroutes PreferredRouteSource
	advisories AdvisorySource
	opts       Options
	logger     *logger.Logger

	// newAllocator is replaceable for tests
	newAllocator func(used []string) *Allocator
}

// NewReconciler creates a Reconciler
func NewReconciler(
	store Store,
	airports AirportLookup,
	routes RouteResolver,
	prefroutes PreferredRouteSource,
	advisories AdvisorySource,
	opts Options,
	log *logger.Logger,
) *Reconciler {
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = DefaultRecordTTL
	}
	if opts.DepartingRadiusNM <= 0 {
		opts.DepartingRadiusNM = DefaultDepartingRadiusNM
	}
	if opts.FreshnessMode == "" {
		opts.FreshnessMode = FreshnessStrict
	}
	return &Reconciler{
		store:        store,
		airports:     airports,
		routes:       routes,
		prefroutes:   prefroutes,
		advisories:   advisories,
		opts:         opts,
		logger:       log.Named("reconciler"),
		newAllocator: NewAllocator,
	}
}

// Run performs one pass over flightplans. records is the persisted state at
// pass start, keyed by callsign. Failures for one callsign are collected in
// the result and never stop the pass; only context cancellation does.
func (r *Reconciler) Run(ctx context.Context, flightplans map[string]feed.Flightplan, records map[string]*Record, now time.Time) (PassResult, error) {
	now = now.UTC()
	start := time.Now()
	result := PassResult{
		Started: now,
		Errors:  make(map[string]error),
	}

	used := make([]string, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			used = append(used, rec.CID)
		}
	}
	alloc := r.newAllocator(used)
	prefs := NewPreferredRouteCache(r.prefroutes, r.routes)
	touched := make(map[string]bool, len(flightplans))

	callsigns := make([]string, 0, len(flightplans))
	for cs := range flightplans {
		callsigns = append(callsigns, cs)
	}
	sort.Strings(callsigns)

	for _, callsign := range callsigns {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fp := flightplans[callsign]
		pos := geodesy.NewPosition(fp.Lat, fp.Lon)
		if !geodesy.InContinentalWindow(pos) {
			result.Skipped++
			continue
		}
		result.Processed++

		existing := records[callsign]
		if existing != nil && existing.Dep == fp.Departure && existing.Dest == fp.Arrival && r.isFresh(existing, now) {
			rec, err := r.update(ctx, existing, fp, pos, now)
			if err != nil {
				result.Errors[callsign] = err
				r.logger.Warn("Failed to update record",
					logger.String("callsign", callsign),
					logger.Error(err))
				continue
			}
			touched[callsign] = true
			result.Updated = append(result.Updated, rec)
			continue
		}

		rec, err := r.rebuild(ctx, callsign, existing, fp, pos, now, alloc, prefs)
		if err != nil {
			result.Errors[callsign] = err
			r.logger.Warn("Failed to rebuild record",
				logger.String("callsign", callsign),
				logger.Error(err))
			continue
		}
		if rec == nil {
			result.Skipped++
			continue
		}
		touched[callsign] = true
		result.Rebuilt = append(result.Rebuilt, rec)
	}

	stale := make([]string, 0)
	for callsign, rec := range records {
		if rec == nil || touched[callsign] {
			continue
		}
		if r.isExpired(rec, now) {
			stale = append(stale, callsign)
		}
	}
	sort.Strings(stale)

	for _, callsign := range stale {
		if err := r.store.Delete(ctx, callsign); err != nil {
			result.Errors[callsign] = fmt.Errorf("failed to evict record: %w", err)
			r.logger.Warn("Failed to evict record",
				logger.String("callsign", callsign),
				logger.Error(err))
			continue
		}
		result.Evicted = append(result.Evicted, callsign)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// isFresh decides between the incremental and rebuild path
func (r *Reconciler) isFresh(rec *Record, now time.Time) bool {
	updated, ok := rec.UpdatedAt()
	if !ok {
		return false
	}
	if r.opts.FreshnessMode == FreshnessLegacy {
		return updated.Before(now.Add(r.opts.RecordTTL))
	}
	return !updated.Before(now.Add(-r.opts.RecordTTL))
}

// isExpired reports whether a record is past its TTL. Unreadable times count as expired.
func (r *Reconciler) isExpired(rec *Record, now time.Time) bool {
	updated, ok := rec.UpdatedAt()
	if !ok {
		return true
	}
	return updated.Add(r.opts.RecordTTL).Before(now)
}

func (r *Reconciler) update(ctx context.Context, existing *Record, fp feed.Flightplan, pos geodesy.Position, now time.Time) (*Record, error) {
	rec := existing.Clone()

	if rec.Departing == nil || *rec.Departing {
		departing := false
		if dep, ok := r.airports.FindAirport(fp.Departure); ok {
			departing = r.isDeparting(dep, pos)
		}
		rec.Departing = &departing
	}

	rec.RemainingRouteData = RemainingRoute(rec.RouteData, r.destinationFix(rec.Dest), pos)
	rec.RemainingRoute = r.routes.FormatRemainingRoute(rec.Route, rec.RemainingRouteData)
	rec.Flightplan = fp
	rec.UpdateTime = FormatTime(now)

	if err := r.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	return rec, nil
}

// rebuild assembles a new record. It returns nil without error when neither
// airport resolves.
func (r *Reconciler) rebuild(
	ctx context.Context,
	callsign string,
	existing *Record,
	fp feed.Flightplan,
	pos geodesy.Position,
	now time.Time,
	alloc *Allocator,
	prefs *PreferredRouteCache,
) (*Record, error) {
	dep, depOK := r.airports.FindAirport(fp.Departure)
	_, destOK := r.airports.FindAirport(fp.Arrival)
	if !depOK && !destOK {
		r.logger.Debug("Skipping flightplan with unknown airports",
			logger.String("callsign", callsign),
			logger.String("dep", fp.Departure),
			logger.String("dest", fp.Arrival))
		return nil, nil
	}

	departing := false
	var depARTCC *string
	if depOK {
		departing = r.isDeparting(dep, pos)
		artcc := strings.ToLower(dep.ARTCC)
		depARTCC = &artcc
	}

	if existing != nil {
		alloc.Release(existing.CID)
	}
	cid, err := alloc.Allocate()
	if err != nil {
		if existing != nil {
			alloc.Reserve(existing.CID)
		}
		return nil, err
	}

	routes, err := prefs.Get(ctx, fp.Departure, fp.Arrival)
	if err != nil {
		r.restoreCID(alloc, existing, cid)
		return nil, fmt.Errorf("failed to look up preferred routes: %w", err)
	}

	rec := &Record{
		Callsign:   callsign,
		CID:        cid,
		Type:       fp.AircraftShort,
		Equipment:  fp.EquipmentSuffix(),
		Beacon:     fp.AssignedTransponder,
		Dep:        fp.Departure,
		DepARTCC:   depARTCC,
		Dest:       fp.Arrival,
		Route:      r.routes.FormatRoute(fp.Route),
		RouteData:  r.routes.RouteData(r.routes.ExpandRoute(fp.Route)),
		Altitude:   FormatAltitude(fp),
		Remarks:    fp.Remarks,
		FreeText:   "",
		Departing:  &departing,
		Flightplan: fp,
		ADR:        make([]advisory.ADR, 0),
		ADAR:       make([]advisory.ADAR, 0),
		Routes:     routes,
		UpdateTime: FormatTime(now),
	}
	rec.RemainingRouteData = RemainingRoute(rec.RouteData, r.destinationFix(rec.Dest), pos)
	rec.RemainingRoute = r.routes.FormatRemainingRoute(rec.Route, rec.RemainingRouteData)

	if r.advisories != nil {
		for _, a := range r.advisories.EligibleADR(fp) {
			a.Route = r.routes.FormatRoute(a.Route)
			rec.ADR = append(rec.ADR, a)
		}
		for _, a := range r.advisories.EligibleADAR(fp) {
			a.RouteData = r.routes.RouteData(r.routes.ExpandRoute(a.Route))
			a.Route = r.routes.FormatRoute(a.Route)
			rec.ADAR = append(rec.ADAR, a)
		}
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		r.restoreCID(alloc, existing, cid)
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	return rec, nil
}

// restoreCID undoes an allocation for a record that was not written, so the
// previous record keeps its CID
func (r *Reconciler) restoreCID(alloc *Allocator, existing *Record, cid string) {
	alloc.Release(cid)
	if existing != nil {
		alloc.Reserve(existing.CID)
	}
}

func (r *Reconciler) isDeparting(dep *navdata.Airport, pos geodesy.Position) bool {
	return geodesy.DistanceNM(geodesy.NewPosition(dep.Lat, dep.Lon), pos) < r.opts.DepartingRadiusNM
}

func (r *Reconciler) destinationFix(dest string) *route.Fix {
	a, ok := r.airports.FindAirport(dest)
	if !ok {
		return nil
	}
	return &route.Fix{ID: dest, Pos: geodesy.NewPosition(a.Lat, a.Lon)}
}

// FormatAltitude renders the filed altitude in feet, zero padded to three
// digits. Unparseable altitudes are kept as filed.
func FormatAltitude(fp feed.Flightplan) string {
	feet, ok := fp.AltitudeFeet()
	if !ok {
		return strings.TrimSpace(fp.Altitude)
	}
	return fmt.Sprintf("%03d", feet)
}
