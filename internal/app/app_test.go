package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/entity"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/reconcile"
	"map-api/internal/render"
)

type linearProjector struct{}

func (linearProjector) Unproject(p geo.Pixel) (geo.LatLng, error) {
	return geo.LatLng{Lat: -p.Y / 100, Lng: p.X / 100}, nil
}

type fakeFeed struct {
	mu     sync.Mutex
	snaps  map[category.Category]*feed.Snapshot
	fail   map[category.Category]error
	sinces []*int64
}

func (f *fakeFeed) Fetch(ctx context.Context, cat category.Category, since *int64) (*feed.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cat == category.House {
		f.sinces = append(f.sinces, since)
	}
	if err := f.fail[cat]; err != nil {
		return nil, err
	}
	s := *f.snaps[cat]
	s.Full = since == nil
	return &s, nil
}

type memJournal struct {
	mu     sync.Mutex
	deltas []reconcile.Delta
}

func (j *memJournal) Record(ctx context.Context, d reconcile.Delta) error {
	j.mu.Lock()
	j.deltas = append(j.deltas, d)
	j.mu.Unlock()
	return nil
}

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func sampleFeed() *fakeFeed {
	return &fakeFeed{
		snaps: map[category.Category]*feed.Snapshot{
			category.Zone: {Category: category.Zone, Items: []feed.Item{
				{ID: 1, Attrs: entity.Zone{Name: "Los Santos", Polygons: []geo.Ring{{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}, {X: 0, Y: 1000}}}}},
				{ID: 2, Attrs: entity.Zone{Name: "Idlewood", Polygons: []geo.Ring{{{X: 100, Y: 100}, {X: 300, Y: 100}, {X: 300, Y: 300}, {X: 100, Y: 300}}}}},
			}},
			category.House: {Category: category.House, Watermark: at(1000), Items: []feed.Item{
				{ID: 1, Attrs: entity.House{Title: "Dom Gracza", Location: "Idlewood", Price: 10, Pos: geo.Pixel{X: 150, Y: 150}}},
				{ID: 2, Attrs: entity.House{Title: "Willa", Location: "Idlewood", Price: 20, Pos: geo.Pixel{X: 5000, Y: 5000}}},
			}},
			category.Blip:  {Category: category.Blip, Items: []feed.Item{{ID: 1, Attrs: entity.Blip{Name: "Bank", Icon: "bank.png", Pos: geo.Pixel{X: 10, Y: 10}}}}},
			category.Event: {Category: category.Event},
		},
		fail: map[category.Category]error{},
	}
}

func newApp(t *testing.T, f *fakeFeed, j Journal) *App {
	t.Helper()
	a := New(Deps{Feed: f, Projector: linearProjector{}, Viewport: geo.Bounds{South: -10, West: 0, North: 0, East: 10}, Journal: j})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Start(ctx)
	return a
}

func TestLoop_CallRunsSerially(t *testing.T) {
	l := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	n := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Call(ctx, func() error { n++; return nil })
		}()
	}
	wg.Wait()
	if n != 50 {
		t.Fatalf("n=%d", n)
	}
	want := errors.New("boom")
	if err := l.Call(ctx, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("err=%v", err)
	}
	cancel()
	<-l.done
	if err := l.Post(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("post after stop: %v", err)
	}
}

func TestLoadAllAndRefresh(t *testing.T) {
	f := sampleFeed()
	j := &memJournal{}
	a := newApp(t, f, j)
	ctx := context.Background()

	if err := a.LoadAll(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	counts, _ := a.Counts(ctx)
	if counts["zone"] != 2 || counts["house"] != 2 || counts["blip"] != 1 || counts["event"] != 0 {
		t.Fatalf("counts=%v", counts)
	}
	houses, _ := a.State(ctx, category.House)
	attached := 0
	for _, h := range houses {
		if h.Attached {
			attached++
		}
	}
	if attached != 1 {
		t.Fatalf("attached houses=%d want 1", attached)
	}
	if w, ok, _ := a.Watermark(ctx); !ok || w != 1000 {
		t.Fatalf("watermark=%d ok=%v", w, ok)
	}

	owner := "Alice"
	f.mu.Lock()
	f.snaps[category.House] = &feed.Snapshot{Category: category.House, Watermark: at(1060), Items: []feed.Item{
		{ID: 1, Attrs: entity.House{Title: "Dom Gracza", Location: "Idlewood", Owner: &owner, Price: 10, Pos: geo.Pixel{X: 150, Y: 150}}},
	}}
	f.mu.Unlock()
	d, err := a.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if d.Updated != 1 || d.Added != 0 || d.Watermark != 1060 {
		t.Fatalf("delta=%+v", d)
	}
	f.mu.Lock()
	last := f.sinces[len(f.sinces)-1]
	f.mu.Unlock()
	if last == nil || *last != 1000 {
		t.Fatalf("refresh did not pass the watermark: %v", last)
	}
	j.mu.Lock()
	n := len(j.deltas)
	j.mu.Unlock()
	if n != 5 {
		t.Fatalf("journal entries=%d", n)
	}
}

func TestRefresh_FailureLeavesState(t *testing.T) {
	f := sampleFeed()
	a := newApp(t, f, nil)
	ctx := context.Background()
	_ = a.LoadAll(ctx)

	f.mu.Lock()
	f.fail[category.House] = &feed.NetworkError{Category: category.House, Kind: "transport", Err: errors.New("refused")}
	f.mu.Unlock()
	if _, err := a.Refresh(ctx); err == nil {
		t.Fatalf("expected error")
	}
	if w, _, _ := a.Watermark(ctx); w != 1000 {
		t.Fatalf("watermark moved to %d", w)
	}
	counts, _ := a.Counts(ctx)
	if counts["house"] != 2 {
		t.Fatalf("houses=%d", counts["house"])
	}

	f.mu.Lock()
	delete(f.fail, category.House)
	f.mu.Unlock()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.mu.Lock()
	sinces := append([]*int64(nil), f.sinces...)
	f.mu.Unlock()
	if len(sinces) != 3 || sinces[0] != nil {
		t.Fatalf("sinces=%v", sinces)
	}
	for i, s := range sinces[1:] {
		if s == nil || *s != 1000 {
			t.Fatalf("poll %d not retried from watermark 1000: %v", i+1, s)
		}
	}
}

func TestHouse(t *testing.T) {
	a := newApp(t, sampleFeed(), nil)
	ctx := context.Background()
	_ = a.LoadAll(ctx)

	h, err := a.House(ctx, 1)
	if err != nil || h == nil {
		t.Fatalf("house=%+v err=%v", h, err)
	}
	if h.Title != "Dom Gracza" || h.X != 150 || h.Y != 150 || h.Owner != nil || !h.Attached {
		t.Fatalf("house=%+v", h)
	}
	if h, err := a.House(ctx, 99); err != nil || h != nil {
		t.Fatalf("unknown house=%+v err=%v", h, err)
	}
}

func TestLoadAll_PartialFailure(t *testing.T) {
	f := sampleFeed()
	f.fail[category.Event] = errors.New("down")
	a := newApp(t, f, nil)
	err := a.LoadAll(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	counts, _ := a.Counts(context.Background())
	if counts["zone"] != 2 || counts["house"] != 2 {
		t.Fatalf("other categories not loaded: %v", counts)
	}
}

func TestOnMapEvent(t *testing.T) {
	a := newApp(t, sampleFeed(), nil)
	ctx := context.Background()
	_ = a.LoadAll(ctx)

	res, err := a.OnMapEvent(ctx, cull.MoveEnd, geo.Bounds{South: -60, West: 0, North: 0, East: 60})
	if err != nil {
		t.Fatalf("map event: %v", err)
	}
	if res.Attached != 1 || res.Detached != 0 {
		t.Fatalf("res=%+v", res)
	}
	res, _ = a.OnMapEvent(ctx, cull.MoveEnd, geo.Bounds{South: -60, West: 0, North: 0, East: 60})
	if res.Transitions() != 0 {
		t.Fatalf("repeated event not idempotent: %+v", res)
	}
	if _, err := a.OnMapEvent(ctx, cull.Zoom, geo.Bounds{South: 1, North: 0}); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("err=%v", err)
	}
	v, _ := a.Viewport(ctx)
	if v.East != 60 {
		t.Fatalf("viewport=%+v", v)
	}
}

func TestLookupZoneAndStats(t *testing.T) {
	a := newApp(t, sampleFeed(), nil)
	ctx := context.Background()
	_ = a.LoadAll(ctx)

	hit, err := a.LookupZone(ctx, geo.Pixel{X: 200, Y: 200})
	if err != nil || hit == nil || hit.Name != "Idlewood" {
		t.Fatalf("hit=%+v err=%v", hit, err)
	}
	hit, _ = a.LookupZone(ctx, geo.Pixel{X: 900, Y: 900})
	if hit == nil || hit.Name != "Los Santos" {
		t.Fatalf("hit=%+v", hit)
	}
	if hit, _ := a.LookupZone(ctx, geo.Pixel{X: 2000, Y: 2000}); hit != nil {
		t.Fatalf("outside point matched %+v", hit)
	}

	st, ok, _ := a.ZoneStats(ctx, 2)
	if !ok || st.Total != 2 || st.Available != 2 || st.Average != 15 {
		t.Fatalf("stats=%+v ok=%v", st, ok)
	}
	if _, ok, _ := a.ZoneStats(ctx, 99); ok {
		t.Fatalf("unknown zone reported")
	}
}

type recorder struct {
	mu  sync.Mutex
	got []render.Transition
}

func (r *recorder) Publish(t render.Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func TestSelectAndSuggestFallback(t *testing.T) {
	f := sampleFeed()
	a := New(Deps{Feed: f, Projector: linearProjector{}, Viewport: geo.Bounds{South: -10, West: 0, North: 0, East: 10}})
	rec := &recorder{}
	a.Subscribe(rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	_ = a.LoadAll(ctx)

	got := a.Suggest(ctx, "dom gracz")
	if len(got) != 1 || got[0].Group != "houses" || got[0].ID != 1 {
		t.Fatalf("suggest=%+v", got)
	}
	ok, err := a.Select(ctx, got[0].Group, got[0].ID)
	if err != nil || !ok {
		t.Fatalf("select ok=%v err=%v", ok, err)
	}
	rec.mu.Lock()
	last := rec.got[len(rec.got)-1]
	rec.mu.Unlock()
	if last.Kind != render.KindFocus || last.FlyTo == nil {
		t.Fatalf("last=%+v", last)
	}
}

func TestGeoJSON(t *testing.T) {
	a := newApp(t, sampleFeed(), nil)
	ctx := context.Background()
	_ = a.LoadAll(ctx)
	fc, err := a.GeoJSON(ctx, category.Zone)
	if err != nil || len(fc.Features) != 2 {
		t.Fatalf("fc=%v err=%v", fc, err)
	}
	if _, err := a.GeoJSON(ctx, category.Category(0)); err == nil {
		t.Fatalf("expected configuration error")
	}
}
