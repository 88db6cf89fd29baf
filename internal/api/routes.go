// 包 api：集中注册 HTTP API 路由以解耦主入口；地图客户端通过这些接口上报视口、搜索与选中
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"map-api/internal/app"
	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/geo"
	"map-api/internal/logger"
	"map-api/internal/metrics"
	"map-api/internal/middleware"
	"map-api/internal/render"
	"map-api/internal/search"
	"map-api/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	geojson "github.com/paulmach/go.geojson"
)

// Map：路由依赖的应用操作，由 *app.App 实现
type Map interface {
	State(ctx context.Context, cat category.Category) ([]app.EntityState, error)
	OnMapEvent(ctx context.Context, ev cull.MapEvent, b geo.Bounds) (cull.Result, error)
	Suggest(ctx context.Context, query string) []search.Result
	Select(ctx context.Context, group string, id int64) (bool, error)
	House(ctx context.Context, id int64) (*app.HouseView, error)
	LookupZone(ctx context.Context, p geo.Pixel) (*app.ZoneHit, error)
	ZoneStats(ctx context.Context, id int64) (render.ZoneStats, bool, error)
	GeoJSON(ctx context.Context, cat category.Category) (*geojson.FeatureCollection, error)
	Watermark(ctx context.Context) (int64, bool, error)
	Counts(ctx context.Context) (map[string]int, error)
}

// JournalReader：同步日志查询；未启用日志时为 nil
type JournalReader interface {
	GetTotals(ctx context.Context) ([]store.Totals, error)
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

// Options：路由级参数
type Options struct {
	RateLimitQPS int
	RealIPHeader string
}

// 文档注释：构建 API 路由
// 背景：返回的处理器挂载在 API_BASE 之下；JSON 接口统一 gzip 压缩，websocket 与指标接口不经压缩包装（升级连接需要原始 ResponseWriter）。
// 约束：ws 可为空（不提供推送）；搜索接口按客户端限流。
func BuildRoutes(m Map, j JournalReader, ws http.Handler, opt Options) http.Handler {
	h := &handlers{m: m, j: j}
	r := chi.NewRouter()
	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
		r.Get("/state/{category}", h.state)
		r.Post("/viewport", h.viewport)
		r.With(middleware.RateLimit(opt.RateLimitQPS, opt.RealIPHeader)).Get("/search", h.search)
		r.Post("/select", h.selectResult)
		r.Get("/houses/{id}", h.house)
		r.Get("/lookup", h.lookup)
		r.Get("/zones/{id}/stats", h.zoneStats)
		r.Get("/geojson/{category}", h.geoJSON)
		r.Get("/watermark", h.watermark)
		r.Get("/stats", h.stats)
	})
	return r
}

type handlers struct {
	m Map
	j JournalReader
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail：按错误类型映射状态码；未知类别属于调用方错误，按 error 级别记录
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *category.ConfigurationError
	switch {
	case errors.As(err, &ce):
		logger.L().Error("api_configuration_error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidBounds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrLoopStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		logger.L().Error("api_error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	cat, err := category.Parse(chi.URLParam(r, "category"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out, err := h.m.State(r.Context(), cat)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": cat.String(), "data": out})
}

type viewportRequest struct {
	Event  string     `json:"event"`
	Bounds geo.Bounds `json:"bounds"`
}

func (h *handlers) viewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := cull.ParseEvent(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.m.OnMapEvent(r.Context(), ev, req.Bounds)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Suggest(r.Context(), r.URL.Query().Get("query")))
}

type selectRequest struct {
	ID    int64  `json:"id"`
	Group string `json:"group"`
}

func (h *handlers) selectResult(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Group == "" {
		writeError(w, http.StatusBadRequest, "id and group required")
		return
	}
	ok, err := h.m.Select(r.Context(), req.Group, req.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"focused": ok})
}

func (h *handlers) house(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid house id")
		return
	}
	v, err := h.m.House(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "house not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "x and y must be numbers")
		return
	}
	hit, err := h.m.LookupZone(r.Context(), geo.Pixel{X: x, Y: y})
	if err != nil {
		fail(w, r, err)
		return
	}
	if hit == nil {
		writeError(w, http.StatusNotFound, "no zone at point")
		return
	}
	writeJSON(w, http.StatusOK, hit)
}

func (h *handlers) zoneStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return
	}
	st, ok, err := h.m.ZoneStats(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "zone not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) geoJSON(w http.ResponseWriter, r *http.Request) {
	cat, err := category.Parse(chi.URLParam(r, "category"))
	if err != nil {
		fail(w, r, err)
		return
	}
	fc, err := h.m.GeoJSON(r.Context(), cat)
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("content-type", "application/geo+json")
	_, _ = w.Write(b)
}

func (h *handlers) watermark(w http.ResponseWriter, r *http.Request) {
	wm, ok, err := h.m.Watermark(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := map[string]any{"category": category.House.String(), "watermark": wm, "known": ok}
	if ok {
		out["iso"] = time.Unix(wm, 0).UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.m.Counts(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := map[string]any{"entities": counts}
	if h.j != nil {
		totals, err := h.j.GetTotals(r.Context())
		if err != nil {
			logger.L().Warn("api_journal_error", "err", err)
		} else {
			out["sync"] = totals
		}
		recent, err := h.j.Recent(r.Context(), 20)
		if err == nil {
			out["recent"] = recent
		}
	}
	writeJSON(w, http.StatusOK, out)
}
