package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/geo"
)

type linearProjector struct{}

func (linearProjector) Unproject(p geo.Pixel) (geo.LatLng, error) {
	return geo.LatLng{Lat: -p.Y / 100, Lng: p.X / 100}, nil
}

type recorder struct{ got []Transition }

func (r *recorder) Publish(t Transition) { r.got = append(r.got, t) }

func (r *recorder) kinds() []Kind {
	var out []Kind
	for _, t := range r.got {
		out = append(out, t.Kind)
	}
	return out
}

func houseEntity(owner *string) *entity.Entity {
	return &entity.Entity{
		ID:          1,
		Category:    category.House,
		DisplayName: "Dom Gracza",
		Anchor:      geo.Anchor{Point: geo.LatLng{Lat: 1, Lng: 2}, Valid: true},
		Attributes:  entity.House{Name: "Dom Gracza", Title: "Dom Gracza", Location: "Idlewood", Owner: owner, Price: 12.5},
	}
}

func TestScene_AttachDetachTransitions(t *testing.T) {
	s := NewScene(linearProjector{})
	rec := &recorder{}
	s.Subscribe(rec)

	h, err := s.Create(houseEntity(nil))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Attached(h) {
		t.Fatalf("created features start detached")
	}
	_ = s.Attach(h)
	_ = s.Attach(h)
	_ = s.Detach(h)
	_ = s.Detach(h)

	want := []Kind{KindCreate, KindAttach, KindDetach}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kinds=%v want=%v", got, want)
		}
	}
	if err := s.Attach("nope"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestScene_UpdateKeepsAttachmentAndRefreshesIcon(t *testing.T) {
	s := NewScene(linearProjector{})
	rec := &recorder{}
	s.Subscribe(rec)
	h, _ := s.Create(houseEntity(nil))
	_ = s.Attach(h)

	owner := "Alice"
	if err := s.Update(h, houseEntity(&owner)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !s.Attached(h) {
		t.Fatalf("update must not detach")
	}
	last := rec.got[len(rec.got)-1]
	if last.Kind != KindUpdate || last.Feature.Icon.URL != iconOwned {
		t.Fatalf("last=%+v", last)
	}
	if !strings.Contains(last.Feature.Popup, "Alice") {
		t.Fatalf("popup missing owner: %s", last.Feature.Popup)
	}
}

func TestScene_FocusZoneFliesToPolygonBounds(t *testing.T) {
	s := NewScene(linearProjector{})
	rec := &recorder{}
	s.Subscribe(rec)
	z := &entity.Entity{
		ID:       3,
		Category: category.Zone,
		Attributes: entity.Zone{Name: "Ganton", Polygons: []geo.Ring{
			{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
		}},
	}
	h, _ := s.Create(z)
	if err := s.Focus(h, "<dd>custom</dd>"); err != nil {
		t.Fatalf("focus: %v", err)
	}
	last := rec.got[len(rec.got)-1]
	if last.Kind != KindFocus || last.FlyTo == nil {
		t.Fatalf("last=%+v", last)
	}
	if last.FlyTo.West != 0 || last.FlyTo.East != 1 || last.FlyTo.South != -1 || last.FlyTo.North != 0 {
		t.Fatalf("fly bounds=%+v", *last.FlyTo)
	}
	if last.Feature.Popup != "<dd>custom</dd>" {
		t.Fatalf("popup=%q", last.Feature.Popup)
	}
}

func TestPopup_EscapesUpstreamText(t *testing.T) {
	owner := `<script>alert(1)</script>`
	exp := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	out := PopupFor(9, entity.House{Title: "Willa", Location: "Mulholland", Owner: &owner, Price: 99.5, Expires: &exp})
	if strings.Contains(out, "<script>") {
		t.Fatalf("popup not escaped: %s", out)
	}
	for _, want := range []string{"9. Willa", "99,5€ za dobę", "2024-05-01 18:30", `class="fa fa-user fa-fw"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("popup missing %q: %s", want, out)
		}
	}
	free := PopupFor(9, entity.House{Title: "Willa", Price: 10})
	if !strings.Contains(free, "Do wynajęcia!") {
		t.Fatalf("free popup: %s", free)
	}
}

func TestPopup_EventOpenEnded(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)
	out := PopupFor(1, entity.Event{Name: "Wyścig", PostURL: "https://forum.example/t/1", Start: &start})
	if !strings.Contains(out, "odwołania") || !strings.Contains(out, "https://forum.example/t/1") {
		t.Fatalf("event popup: %s", out)
	}
	bad := PopupFor(1, entity.Event{Name: "x", PostURL: "javascript:alert(1)"})
	if strings.Contains(bad, "javascript:") {
		t.Fatalf("unsafe url kept: %s", bad)
	}
}

func TestZoneStats(t *testing.T) {
	owner := "Bob"
	st := StatsOf([]entity.House{{Price: 10}, {Price: 20, Owner: &owner}, {Price: 16}})
	if st.Available != 2 || st.Total != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Average != 15.33 {
		t.Fatalf("Average=%v want=15.33", st.Average)
	}
	popup := ZonePopup(entity.Zone{Name: "Idlewood"}, []entity.House{{Price: 10.5}})
	if !strings.Contains(popup, "1/1 dostępne") || !strings.Contains(popup, "10,50€") {
		t.Fatalf("zone popup: %s", popup)
	}
	empty := ZonePopup(entity.Zone{Name: "Idlewood"}, nil)
	if !strings.Contains(empty, "Brak domów na wynajem!") {
		t.Fatalf("empty zone popup: %s", empty)
	}
}

func TestFeatureCollection(t *testing.T) {
	ents := []*entity.Entity{
		houseEntity(nil),
		{ID: 2, Category: category.Blip, Attributes: entity.Blip{Name: "Bank", Icon: "icons/bank.png"}},
		{ID: 3, Category: category.Zone, DisplayName: "Ganton", Attributes: entity.Zone{Name: "Ganton", Polygons: []geo.Ring{
			{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}},
			{{X: 200, Y: 200}, {X: 300, Y: 200}, {X: 300, Y: 300}},
		}}},
	}
	fc := FeatureCollection(linearProjector{}, ents)
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d want=2 (blip without anchor skipped)", len(fc.Features))
	}
	zone := fc.Features[1]
	if !zone.Geometry.IsMultiPolygon() {
		t.Fatalf("zone geometry type=%s", zone.Geometry.Type)
	}
	if n := len(zone.Geometry.MultiPolygon[0][0]); n != 4 {
		t.Fatalf("ring not closed: %d vertices", n)
	}
}
