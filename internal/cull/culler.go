// 包 cull：视口裁剪；地图移动时只把视口内的标记挂到地图上，降低渲染压力
package cull

import (
	"fmt"
	"log/slog"
	"strings"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/geo"
	"map-api/internal/logger"
	"map-api/internal/metrics"
	"map-api/internal/registry"
	"map-api/internal/render"
)

// MapEvent：触发重新裁剪的地图事件
type MapEvent string

const (
	ZoomEnd MapEvent = "zoomend"
	MoveEnd MapEvent = "moveend"
	Resize  MapEvent = "resize"
	Zoom    MapEvent = "zoom"
	Move    MapEvent = "move"
)

// ParseEvent：解析地图事件名
func ParseEvent(s string) (MapEvent, error) {
	switch ev := MapEvent(strings.ToLower(s)); ev {
	case ZoomEnd, MoveEnd, Resize, Zoom, Move:
		return ev, nil
	}
	return "", fmt.Errorf("cull: unknown map event %q", s)
}

// Result：一次裁剪产生的转换数
type Result struct {
	Attached int `json:"attached"`
	Detached int `json:"detached"`
	Skipped  int `json:"skipped"`
}

func (r Result) add(o Result) Result {
	return Result{Attached: r.Attached + o.Attached, Detached: r.Detached + o.Detached, Skipped: r.Skipped + o.Skipped}
}

// Transitions：挂载与卸载之和
func (r Result) Transitions() int { return r.Attached + r.Detached }

// 文档注释：视口裁剪器
// 背景：对类别内每个实体做锚点-视口包含判定；在内且未挂载则挂载，不在内且已挂载则卸载。
// 约束：幂等且与遍历顺序无关；无有效锚点的实体跳过（已挂载则卸载）；区域豁免，始终挂载。
type Culler struct {
	store *registry.Store
	r     render.Renderer
	log   *slog.Logger
}

func New(store *registry.Store, r render.Renderer) *Culler {
	return &Culler{store: store, r: r, log: logger.Component("cull")}
}

// Run：对单个类别执行裁剪
func (c *Culler) Run(cat category.Category, b geo.Bounds) (Result, error) {
	if err := category.Check("cull", cat); err != nil {
		return Result{}, err
	}
	all, err := c.store.All(cat)
	if err != nil {
		return Result{}, err
	}
	if !cat.Culled() {
		return c.attachAll(cat, all), nil
	}
	var res Result
	for _, e := range all {
		if e.Handle == "" {
			continue
		}
		attached := c.r.Attached(e.Handle)
		if !e.Anchor.Valid {
			res.Skipped++
			c.log.Warn("cull_no_anchor", "category", cat.String(), "id", e.ID)
			if attached {
				res.Detached += c.detach(e)
			}
			continue
		}
		inside := b.Contains(e.Anchor.Point)
		switch {
		case inside && !attached:
			res.Attached += c.attach(e)
		case !inside && attached:
			res.Detached += c.detach(e)
		}
	}
	metrics.CullTransitionsTotal.WithLabelValues(cat.String(), "attach").Add(float64(res.Attached))
	metrics.CullTransitionsTotal.WithLabelValues(cat.String(), "detach").Add(float64(res.Detached))
	c.log.Debug("cull_done", "category", cat.String(), "attached", res.Attached, "detached", res.Detached, "skipped", res.Skipped)
	return res, nil
}

// RunAll：对全部参与裁剪的类别执行一次
func (c *Culler) RunAll(b geo.Bounds) Result {
	var total Result
	for _, cat := range category.All {
		if !cat.Culled() {
			continue
		}
		r, err := c.Run(cat, b)
		if err != nil {
			c.log.Error("cull_error", "category", cat.String(), "err", err)
			continue
		}
		total = total.add(r)
	}
	return total
}

// OnMapEvent：地图事件入口；每个事件都重新评估全部可裁剪类别
func (c *Culler) OnMapEvent(ev MapEvent, b geo.Bounds) Result {
	c.log.Debug("map_event", "event", string(ev))
	return c.RunAll(b)
}

func (c *Culler) attachAll(cat category.Category, all []*entity.Entity) Result {
	var res Result
	for _, e := range all {
		if e.Handle == "" || c.r.Attached(e.Handle) {
			continue
		}
		res.Attached += c.attach(e)
	}
	metrics.CullTransitionsTotal.WithLabelValues(cat.String(), "attach").Add(float64(res.Attached))
	return res
}

func (c *Culler) attach(e *entity.Entity) int {
	if err := c.r.Attach(e.Handle); err != nil {
		c.log.Error("cull_attach_error", "category", e.Category.String(), "id", e.ID, "err", err)
		return 0
	}
	return 1
}

func (c *Culler) detach(e *entity.Entity) int {
	if err := c.r.Detach(e.Handle); err != nil {
		c.log.Error("cull_detach_error", "category", e.Category.String(), "id", e.ID, "err", err)
		return 0
	}
	return 1
}
