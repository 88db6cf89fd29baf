package reconcile

import (
	"errors"
	"testing"
	"time"

	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/entity"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/registry"
	"map-api/internal/render"
)

type linearProjector struct{}

func (linearProjector) Unproject(p geo.Pixel) (geo.LatLng, error) {
	return geo.LatLng{Lat: -p.Y / 100, Lng: p.X / 100}, nil
}

var view = geo.Bounds{South: -10, West: -10, North: 10, East: 10}

type fixture struct {
	store *registry.Store
	scene *render.Scene
	rc    *Reconciler
}

func newFixture() *fixture {
	st := registry.New()
	sc := render.NewScene(linearProjector{})
	return &fixture{store: st, scene: sc, rc: New(st, sc, cull.New(st, sc), linearProjector{})}
}

func house(id int64, owner *string, x, y float64) feed.Item {
	return feed.Item{ID: id, Attrs: entity.House{Title: "Dom", Location: "Idlewood", Owner: owner, Price: 10, Pos: geo.Pixel{X: x, Y: y}}}
}

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestApply_FullThenOwnerChangeKeepsHandle(t *testing.T) {
	f := newFixture()
	d, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Full: true, Items: []feed.Item{house(1, nil, 100, 100)}, Watermark: at(1000)}, view)
	if err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if d.Added != 1 || d.Culled.Attached != 1 {
		t.Fatalf("delta=%+v", d)
	}
	before, _ := f.store.Get(category.House, 1)
	handle := before.Handle

	owner := "Alice"
	d, err = f.rc.Apply(&feed.Snapshot{Category: category.House, Items: []feed.Item{house(1, &owner, 100, 100)}, Watermark: at(1060)}, view)
	if err != nil {
		t.Fatalf("apply incremental: %v", err)
	}
	if d.Added != 0 || d.Updated != 1 || d.Culled.Transitions() != 0 {
		t.Fatalf("delta=%+v", d)
	}
	after, _ := f.store.Get(category.House, 1)
	if after.Handle != handle {
		t.Fatalf("handle changed: %s -> %s", handle, after.Handle)
	}
	if h := after.Attributes.(entity.House); h.Owner == nil || *h.Owner != "Alice" {
		t.Fatalf("owner not updated: %+v", h)
	}
	if !f.scene.Attached(handle) {
		t.Fatalf("update detached the marker")
	}
	if f.store.Len(category.House) != 1 {
		t.Fatalf("duplicate entity created")
	}
}

func TestApply_WatermarkNeverRewinds(t *testing.T) {
	f := newFixture()
	steps := []struct {
		w    *time.Time
		want int64
	}{
		{at(100), 100},
		{at(50), 100},
		{nil, 100},
		{at(100), 100},
		{at(200), 200},
	}
	for i, s := range steps {
		d, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Watermark: s.w}, view)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if d.Watermark != s.want {
			t.Fatalf("step %d: watermark=%d want=%d", i, d.Watermark, s.want)
		}
	}
	if w, ok := f.rc.Watermark(category.House); !ok || w != 200 {
		t.Fatalf("Watermark()=%d,%v", w, ok)
	}
}

func TestApply_PartialBatch(t *testing.T) {
	f := newFixture()
	snap := &feed.Snapshot{
		Category: category.House,
		Full:     true,
		Items:    []feed.Item{house(1, nil, 1, 1), house(3, nil, 2, 2)},
		Rejected: []error{&feed.MalformedResponse{Category: category.House, Index: 1, ID: 2, Reason: "price"}},
	}
	d, err := f.rc.Apply(snap, view)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if d.Added != 2 || d.Rejected != 1 || f.store.Len(category.House) != 2 {
		t.Fatalf("delta=%+v len=%d", d, f.store.Len(category.House))
	}
	if _, ok := f.store.Get(category.House, 2); ok {
		t.Fatalf("rejected item must not be stored")
	}
}

func TestApply_StaleFullSnapshotDiscarded(t *testing.T) {
	f := newFixture()
	fullSeq := f.rc.Issue(category.House)
	incSeq := f.rc.Issue(category.House)
	owner := "Bob"

	if _, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Seq: incSeq, Items: []feed.Item{house(1, &owner, 1, 1)}, Watermark: at(500)}, view); err != nil {
		t.Fatalf("apply incremental: %v", err)
	}
	d, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Full: true, Seq: fullSeq, Items: []feed.Item{house(1, nil, 1, 1)}, Watermark: at(400)}, view)
	if err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if !d.Stale {
		t.Fatalf("older full snapshot was applied: %+v", d)
	}
	e, _ := f.store.Get(category.House, 1)
	if h := e.Attributes.(entity.House); h.Owner == nil || *h.Owner != "Bob" {
		t.Fatalf("stale snapshot overwrote newer state: %+v", h)
	}
	if w, _ := f.rc.Watermark(category.House); w != 500 {
		t.Fatalf("watermark=%d", w)
	}
}

func TestApply_OmittedEntityPersists(t *testing.T) {
	f := newFixture()
	_, _ = f.rc.Apply(&feed.Snapshot{Category: category.House, Full: true, Items: []feed.Item{house(1, nil, 1, 1), house(2, nil, 2, 2)}}, view)
	d, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Items: []feed.Item{house(3, nil, 3, 3)}}, view)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if d.Added != 1 || f.store.Len(category.House) != 3 {
		t.Fatalf("delta=%+v len=%d", d, f.store.Len(category.House))
	}
	for _, id := range []int64{1, 2} {
		if _, ok := f.store.Get(category.House, id); !ok {
			t.Fatalf("house %d removed", id)
		}
	}
}

func TestApply_NewIncrementalEntityIsCulled(t *testing.T) {
	f := newFixture()
	d, err := f.rc.Apply(&feed.Snapshot{Category: category.House, Items: []feed.Item{house(1, nil, 100, 100), house(2, nil, 5000, 5000)}}, view)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if d.Added != 2 || d.Culled.Attached != 1 {
		t.Fatalf("delta=%+v", d)
	}
	far, _ := f.store.Get(category.House, 2)
	if f.scene.Attached(far.Handle) {
		t.Fatalf("out-of-view house attached")
	}
}

func TestApply_ZonesAttachedAndAnchored(t *testing.T) {
	f := newFixture()
	z := entity.Zone{Name: "Ganton", Polygons: []geo.Ring{{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 200, Y: 200}, {X: 0, Y: 200}}}}
	d, err := f.rc.Apply(&feed.Snapshot{Category: category.Zone, Full: true, Items: []feed.Item{{ID: 1, Attrs: z}}}, geo.Bounds{South: 50, West: 50, North: 60, East: 60})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	e, _ := f.store.Get(category.Zone, 1)
	if d.Culled.Attached != 1 || !f.scene.Attached(e.Handle) {
		t.Fatalf("zone not attached: %+v", d)
	}
	if !e.Anchor.Valid || e.Anchor.Point.Lat != -1 || e.Anchor.Point.Lng != 1 {
		t.Fatalf("anchor=%+v", e.Anchor)
	}
}

func TestApply_UnknownCategory(t *testing.T) {
	f := newFixture()
	_, err := f.rc.Apply(&feed.Snapshot{Category: category.Category(0)}, view)
	var ce *category.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
