package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"map-api/internal/app"
	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/geo"
	"map-api/internal/render"
	"map-api/internal/search"
	"map-api/internal/store"

	geojson "github.com/paulmach/go.geojson"
)

type fakeMap struct {
	lastEvent  cull.MapEvent
	lastBounds geo.Bounds
	selected   string
}

func (f *fakeMap) State(ctx context.Context, cat category.Category) ([]app.EntityState, error) {
	if err := category.Check("state", cat); err != nil {
		return nil, err
	}
	return []app.EntityState{}, nil
}

func (f *fakeMap) OnMapEvent(ctx context.Context, ev cull.MapEvent, b geo.Bounds) (cull.Result, error) {
	if !b.Valid() {
		return cull.Result{}, app.ErrInvalidBounds
	}
	f.lastEvent, f.lastBounds = ev, b
	return cull.Result{Attached: 2, Detached: 1}, nil
}

func (f *fakeMap) Suggest(ctx context.Context, q string) []search.Result {
	if q == "gan" {
		return []search.Result{{ID: 3, Name: "Ganton", Group: "zones", Highlighted: "<b>Gan</b>ton"}}
	}
	return []search.Result{}
}

func (f *fakeMap) Select(ctx context.Context, group string, id int64) (bool, error) {
	f.selected = group
	return group == "zones", nil
}

func (f *fakeMap) House(ctx context.Context, id int64) (*app.HouseView, error) {
	if id != 7 {
		return nil, nil
	}
	return &app.HouseView{ID: 7, X: 120, Y: 340, Title: "Willa", Location: "Idlewood", Price: 25.5}, nil
}

func (f *fakeMap) LookupZone(ctx context.Context, p geo.Pixel) (*app.ZoneHit, error) {
	if p.X < 100 && p.Y < 100 {
		return &app.ZoneHit{ID: 3, Name: "Ganton"}, nil
	}
	return nil, nil
}

func (f *fakeMap) ZoneStats(ctx context.Context, id int64) (render.ZoneStats, bool, error) {
	if id != 3 {
		return render.ZoneStats{}, false, nil
	}
	return render.ZoneStats{Available: 1, Total: 2, Average: 12.5}, true, nil
}

func (f *fakeMap) GeoJSON(ctx context.Context, cat category.Category) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geojson.NewPointFeature([]float64{1, 2}))
	return fc, nil
}

func (f *fakeMap) Watermark(ctx context.Context) (int64, bool, error) {
	return 1700000000, true, nil
}

func (f *fakeMap) Counts(ctx context.Context) (map[string]int, error) {
	return map[string]int{"zone": 1, "house": 2}, nil
}

type fakeJournal struct{}

func (fakeJournal) GetTotals(ctx context.Context) ([]store.Totals, error) {
	return []store.Totals{{Category: "house", Syncs: 4}}, nil
}

func (fakeJournal) Recent(ctx context.Context, limit int) ([]store.Entry, error) {
	return nil, nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestState_UnknownCategoryIsBadRequest(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{})
	if w := do(t, h, http.MethodGet, "/state/vehicles", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", w.Code)
	}
	w := do(t, h, http.MethodGet, "/state/houses", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want=200", w.Code)
	}
	if ct := w.Header().Get("content-type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestViewport(t *testing.T) {
	m := &fakeMap{}
	h := BuildRoutes(m, nil, nil, Options{})
	w := do(t, h, http.MethodPost, "/viewport", `{"event":"moveend","bounds":{"south":-1,"west":0,"north":0,"east":1}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var res cull.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Attached != 2 || res.Detached != 1 || m.lastEvent != cull.MoveEnd || m.lastBounds.East != 1 {
		t.Fatalf("res=%+v event=%s bounds=%+v", res, m.lastEvent, m.lastBounds)
	}
	if w := do(t, h, http.MethodPost, "/viewport", `{"event":"click","bounds":{}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown event status=%d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/viewport", `{"event":"zoomend","bounds":{"south":1,"west":0,"north":0,"east":1}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted bounds status=%d", w.Code)
	}
}

func TestSearch_EmptyIsArray(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{})
	w := do(t, h, http.MethodGet, "/search?query=x", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("body=%q want=[]", got)
	}
	w = do(t, h, http.MethodGet, "/search?query=gan", "")
	var out []search.Result
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out) != 1 || out[0].ID != 3 {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestSearch_RateLimited(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{RateLimitQPS: 1})
	limited := false
	for i := 0; i < 5; i++ {
		if w := do(t, h, http.MethodGet, "/search?query=gan", ""); w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatalf("expected 429 after burst")
	}
}

func TestSelect(t *testing.T) {
	m := &fakeMap{}
	h := BuildRoutes(m, nil, nil, Options{})
	w := do(t, h, http.MethodPost, "/select", `{"id":3,"group":"zones"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"focused":true`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/select", `{"id":3}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing group status=%d", w.Code)
	}
}

func TestHouse(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{})
	w := do(t, h, http.MethodGet, "/houses/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["title"] != "Willa" || got["x"] != 120.0 || got["y"] != 340.0 || got["owner"] != nil {
		t.Fatalf("body=%v", got)
	}
	if _, ok := got["expires"]; !ok {
		t.Fatalf("expires must be present even when null: %v", got)
	}
	if w := do(t, h, http.MethodGet, "/houses/8", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown house status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/houses/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
}

func TestLookupAndZoneStats(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{})
	if w := do(t, h, http.MethodGet, "/lookup?x=10&y=20", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Ganton") {
		t.Fatalf("lookup status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/lookup?x=1000&y=20", ""); w.Code != http.StatusNotFound {
		t.Fatalf("miss status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/lookup?x=abc&y=20", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad coord status=%d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/zones/3/stats", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"average_price":12.5`) {
		t.Fatalf("stats status=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/zones/9/stats", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown zone status=%d", w.Code)
	}
}

func TestGeoJSONAndWatermark(t *testing.T) {
	h := BuildRoutes(&fakeMap{}, nil, nil, Options{})
	w := do(t, h, http.MethodGet, "/geojson/blips", "")
	if w.Code != http.StatusOK || w.Header().Get("content-type") != "application/geo+json" {
		t.Fatalf("status=%d ct=%q", w.Code, w.Header().Get("content-type"))
	}
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil || len(fc.Features) != 1 {
		t.Fatalf("fc=%v err=%v", fc, err)
	}
	w = do(t, h, http.MethodGet, "/watermark", "")
	if !strings.Contains(w.Body.String(), "2023-11-14T22:13:20Z") {
		t.Fatalf("watermark body=%s", w.Body.String())
	}
}

func TestStats(t *testing.T) {
	w := do(t, BuildRoutes(&fakeMap{}, nil, nil, Options{}), http.MethodGet, "/stats", "")
	if strings.Contains(w.Body.String(), `"sync"`) {
		t.Fatalf("journal disabled but sync present: %s", w.Body.String())
	}
	w = do(t, BuildRoutes(&fakeMap{}, fakeJournal{}, nil, Options{}), http.MethodGet, "/stats", "")
	if !strings.Contains(w.Body.String(), `"sync"`) || !strings.Contains(w.Body.String(), `"house":2`) {
		t.Fatalf("body=%s", w.Body.String())
	}
}
