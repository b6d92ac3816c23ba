package edst

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/feed"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/navdata"
	"github.com/jlefkoff/VATSIM-EDST-API/internal/route"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
)

type fakeSource struct {
	mu          sync.Mutex
	flightplans map[string]feed.Flightplan
	err         error
	calls       int
}

func (f *fakeSource) FetchFlightplans(ctx context.Context) (map[string]feed.Flightplan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]feed.Flightplan, len(f.flightplans))
	for k, v := range f.flightplans {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	updates  []string
	removals []string
	passes   []PassSummary
}

func (n *fakeNotifier) PublishUpdates(records []*Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, r := range records {
		n.updates = append(n.updates, r.Callsign)
	}
}

func (n *fakeNotifier) PublishRemovals(callsigns []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removals = append(n.removals, callsigns...)
}

func (n *fakeNotifier) PublishPass(summary PassSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.passes = append(n.passes, summary)
}

// zauBox is a rough box around Chicago
const zauBox = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"id":"ZAU"},"geometry":{"type":"Polygon","coordinates":[[[-90,40],[-86,40],[-86,43],[-90,43],[-90,40]]]}}]}`

func newTestService(t *testing.T, store *memStore, fps ...feed.Flightplan) (*Service, *fakeSource, *fakeNotifier) {
	t.Helper()

	src := &fakeSource{flightplans: make(map[string]feed.Flightplan)}
	for _, fp := range fps {
		src.flightplans[fp.Callsign] = fp
	}

	boundaries := navdata.NewBoundaries("")
	if err := boundaries.Add("ZAU", []byte(zauBox)); err != nil {
		t.Fatalf("failed to add boundary: %v", err)
	}

	nav := testNavdata()
	notifier := &fakeNotifier{}
	svc := NewService(
		newTestReconciler(store, Options{}),
		store,
		src,
		route.NewResolver(nav, 64, time.Hour),
		boundaries,
		ServiceConfig{Interval: 10 * time.Millisecond},
		logger.NewNop(),
		notifier,
	)
	svc.now = func() time.Time { return passTime }
	return svc, src, notifier
}

func denverArrival() feed.Flightplan {
	fp := ual123()
	fp.Callsign = "SWA9"
	fp.Lat, fp.Lon = 39.9, -104.7
	return fp
}

func TestServiceRunOnce(t *testing.T) {
	store := newMemStore(existingRecord("OLD1", "001", passTime.Add(-time.Hour)))
	svc, _, notifier := newTestService(t, store, ual123())

	if st := svc.Status(); st.Healthy {
		t.Error("service should not be healthy before the first pass")
	}

	result, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.ID == "" {
		t.Error("pass id not set")
	}

	st := svc.Status()
	if !st.Healthy || st.LastPass == nil || st.LiveFlights != 1 {
		t.Fatalf("Status() = %+v", st)
	}
	if st.LastPass.Rebuilt != 1 || st.LastPass.Evicted != 1 {
		t.Errorf("last pass = %+v, want 1 rebuilt and 1 evicted", st.LastPass)
	}

	if len(notifier.updates) != 1 || notifier.updates[0] != "UAL123" {
		t.Errorf("published updates = %v", notifier.updates)
	}
	if len(notifier.removals) != 1 || notifier.removals[0] != "OLD1" {
		t.Errorf("published removals = %v", notifier.removals)
	}
	if len(notifier.passes) != 1 || notifier.passes[0].ID != result.ID {
		t.Errorf("published passes = %+v", notifier.passes)
	}
}

func TestServiceRunOnceFeedError(t *testing.T) {
	store := newMemStore()
	svc, src, notifier := newTestService(t, store)
	src.err = errors.New("feed down")

	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() should fail when the feed is down")
	}
	st := svc.Status()
	if st.Healthy || st.LastError == "" {
		t.Errorf("Status() = %+v, want unhealthy with an error", st)
	}
	if len(notifier.passes) != 0 {
		t.Errorf("no pass should be published, got %+v", notifier.passes)
	}
}

func TestServiceRunOnceStoreError(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	svc, _, _ := newTestService(t, store, ual123())

	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, errStoreDown) {
		t.Fatalf("RunOnce() error = %v, want store error", err)
	}
}

func TestServiceGetEntry(t *testing.T) {
	store := newMemStore(existingRecord("UAL123", "417", passTime))
	svc, _, _ := newTestService(t, store)

	rec, err := svc.GetEntry(context.Background(), "ual123")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if rec.CID != "417" {
		t.Errorf("cid = %s", rec.CID)
	}

	if _, err := svc.GetEntry(context.Background(), "NOPE"); !IsNotFound(err) {
		t.Errorf("GetEntry() error = %v, want not found", err)
	}
}

func TestServiceAllEntriesSorted(t *testing.T) {
	store := newMemStore(
		existingRecord("ZZZ1", "003", passTime),
		existingRecord("AAA1", "001", passTime),
		existingRecord("MMM1", "002", passTime),
	)
	svc, _, _ := newTestService(t, store)

	records, err := svc.AllEntries(context.Background())
	if err != nil {
		t.Fatalf("AllEntries() error = %v", err)
	}
	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.Callsign
	}
	if want := []string{"AAA1", "MMM1", "ZZZ1"}; !equalIDs(got, want) {
		t.Errorf("AllEntries() = %v, want %v", got, want)
	}
}

func TestServiceUpdateEntry(t *testing.T) {
	existing := existingRecord("UAL123", "417", passTime)
	existing.Flightplan.Lat, existing.Flightplan.Lon = 42.0, -91.0

	tests := []struct {
		name          string
		patch         Patch
		wantRoute     string
		wantRouteData []string
		wantRemaining []string
		check         func(t *testing.T, rec *Record)
	}{
		{
			name:          "route expands when route_data is absent",
			patch:         Patch{"route": json.RawMessage(`"DBQ.J94.OBH"`)},
			wantRoute:     "DBQ.J94.OBH",
			wantRouteData: []string{"DBQ", "OBH"},
			wantRemaining: []string{"DBQ", "OBH"},
		},
		{
			name: "route keeps provided route_data",
			patch: Patch{
				"route":      json.RawMessage(`"DBQ..OBH"`),
				"route_data": json.RawMessage(`[{"fix":"OBH","pos":[41.37,-98.35]}]`),
			},
			wantRoute:     "DBQ..OBH",
			wantRouteData: []string{"OBH"},
			wantRemaining: []string{"OBH"},
		},
		{
			name:          "annotations only",
			patch:         Patch{"free_text": json.RawMessage(`"CLIMB VIA"`), "hdg": json.RawMessage(`270`), "callsign": json.RawMessage(`"HIJACK"`)},
			wantRoute:     "PMPKN.J94.OBH",
			wantRouteData: []string{"PMPKN", "DBQ", "OBH"},
			check: func(t *testing.T, rec *Record) {
				if rec.Callsign != "UAL123" || rec.FreeText != "CLIMB VIA" || string(rec.Hdg) != "270" {
					t.Errorf("record = callsign %s free_text %q hdg %s", rec.Callsign, rec.FreeText, rec.Hdg)
				}
				if rec.RemainingRoute != "" || rec.RemainingRouteData != nil {
					t.Errorf("remaining route should be untouched, got %q %v", rec.RemainingRoute, rec.RemainingRouteData)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(existing)
			svc, _, notifier := newTestService(t, store)

			rec, err := svc.UpdateEntry(context.Background(), "ual123", tt.patch)
			if err != nil {
				t.Fatalf("UpdateEntry() error = %v", err)
			}
			if rec.Route != tt.wantRoute {
				t.Errorf("route = %q, want %q", rec.Route, tt.wantRoute)
			}
			if ids := fixIDs(rec.RouteData); !equalIDs(ids, tt.wantRouteData) {
				t.Errorf("route_data = %v, want %v", ids, tt.wantRouteData)
			}
			if tt.wantRemaining != nil {
				if rec.RemainingRoute != rec.Route {
					t.Errorf("remaining_route = %q, want %q", rec.RemainingRoute, rec.Route)
				}
				if ids := remainingIDs(rec.RemainingRouteData); !equalIDs(ids, tt.wantRemaining) {
					t.Errorf("remaining_route_data = %v, want %v", ids, tt.wantRemaining)
				}
				for _, r := range rec.RemainingRouteData {
					if r.Distance <= 0 {
						t.Errorf("distance for %s = %.2f, want positive", r.ID, r.Distance)
					}
				}
			}
			if tt.check != nil {
				tt.check(t, rec)
			}

			stored, _ := store.Get(context.Background(), "UAL123")
			if stored.Route != rec.Route || stored.CID != "417" {
				t.Errorf("stored record = route %q cid %s", stored.Route, stored.CID)
			}
			if len(notifier.updates) != 1 {
				t.Errorf("published updates = %v", notifier.updates)
			}
		})
	}
}

func TestServiceUpdateEntryErrors(t *testing.T) {
	store := newMemStore(existingRecord("UAL123", "417", passTime))
	svc, _, _ := newTestService(t, store)

	_, err := svc.UpdateEntry(context.Background(), "UAL123", Patch{"departing": json.RawMessage(`"soon"`)})
	if !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("UpdateEntry() error = %v, want ErrInvalidPatch", err)
	}

	_, err = svc.UpdateEntry(context.Background(), "NOPE", Patch{"free_text": json.RawMessage(`"X"`)})
	if !IsNotFound(err) {
		t.Errorf("UpdateEntry() error = %v, want not found", err)
	}

	store.failUpsert["UAL123"] = true
	_, err = svc.UpdateEntry(context.Background(), "UAL123", Patch{"free_text": json.RawMessage(`"X"`)})
	if !errors.Is(err, errStoreDown) {
		t.Errorf("UpdateEntry() error = %v, want store error", err)
	}
}

func TestServiceUpdateEntryRejectsEngineFields(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
	}{
		{"cid held by another record", Patch{"cid": json.RawMessage(`"123"`)}},
		{"unused cid", Patch{"cid": json.RawMessage(`"999"`)}},
		{"update_time", Patch{"update_time": json.RawMessage(`"2000-01-01 00:00:00.000000"`)}},
		{"remaining_route", Patch{"remaining_route": json.RawMessage(`"OBH"`)}},
		{"remaining_route_data with annotations", Patch{
			"free_text":            json.RawMessage(`"X"`),
			"remaining_route_data": json.RawMessage(`[]`),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(existingRecord("AAL1", "123", passTime), existingRecord("DAL2", "456", passTime))
			svc, _, notifier := newTestService(t, store)

			_, err := svc.UpdateEntry(context.Background(), "DAL2", tt.patch)
			if !errors.Is(err, ErrInvalidPatch) {
				t.Fatalf("UpdateEntry() error = %v, want ErrInvalidPatch", err)
			}

			stored, _ := store.Get(context.Background(), "DAL2")
			if stored.CID != "456" || stored.FreeText != "WATCH" || stored.UpdateTime != FormatTime(passTime) {
				t.Errorf("stored record changed: cid %s free_text %q update_time %s", stored.CID, stored.FreeText, stored.UpdateTime)
			}
			if len(notifier.updates) != 0 {
				t.Errorf("published updates = %v, want none", notifier.updates)
			}
		})
	}
}

func TestServiceARTCCEntries(t *testing.T) {
	// OLD1 sits inside ZAU but is not in the feed
	notLive := existingRecord("OLD1", "001", passTime)
	store := newMemStore(notLive)
	svc, src, _ := newTestService(t, store, ual123(), denverArrival())

	// before any pass the feed is queried directly
	records, err := svc.ARTCCEntries(context.Background(), "zau")
	if err != nil {
		t.Fatalf("ARTCCEntries() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("ARTCCEntries() = %d records before any were stored", len(records))
	}
	if src.callCount() != 1 {
		t.Errorf("feed calls = %d, want 1", src.callCount())
	}

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	calls := src.callCount()

	records, err = svc.ARTCCEntries(context.Background(), "ZAU")
	if err != nil {
		t.Fatalf("ARTCCEntries() error = %v", err)
	}
	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.Callsign
	}
	if want := []string{"UAL123"}; !equalIDs(got, want) {
		t.Errorf("ARTCCEntries() = %v, want %v", got, want)
	}
	if src.callCount() != calls {
		t.Error("ARTCCEntries() should use the live set of the last pass")
	}

	if _, err := svc.ARTCCEntries(context.Background(), "ZZZ"); !errors.Is(err, navdata.ErrBoundaryNotFound) {
		t.Errorf("ARTCCEntries() error = %v, want ErrBoundaryNotFound", err)
	}
}

func TestServiceStartStop(t *testing.T) {
	store := newMemStore()
	svc, src, _ := newTestService(t, store, ual123())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if src.callCount() < 1 {
		t.Fatal("Start() should run an initial pass")
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.callCount() < 3 {
		t.Fatalf("pass loop ran %d times, want at least 3", src.callCount())
	}

	svc.Stop()
	after := src.callCount()
	time.Sleep(30 * time.Millisecond)
	if src.callCount() != after {
		t.Error("passes continued after Stop()")
	}
	// a second Stop must not panic
	svc.Stop()
}

func TestServiceAddNotifier(t *testing.T) {
	svc, _, first := newTestService(t, newMemStore(), ual123())
	late := &fakeNotifier{}
	svc.AddNotifier(late)

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(first.passes) != 1 || len(late.passes) != 1 {
		t.Errorf("passes published = %d and %d, want 1 each", len(first.passes), len(late.passes))
	}
	if len(late.updates) != 1 || late.updates[0] != "UAL123" {
		t.Errorf("late notifier updates = %v", late.updates)
	}
}
