// 包 reconcile：把上游快照合并进实体注册表；全量用于启动加载，增量用于按水位线轮询房屋
package reconcile

import (
	"fmt"
	"log/slog"
	"time"

	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/entity"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/logger"
	"map-api/internal/metrics"
	"map-api/internal/registry"
	"map-api/internal/render"
)

// Mode：快照类型
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// 文档注释：一次合并的结果摘要
// 背景：返回给调用方用于日志、同步日志表与 HTTP 查询；Stale 为 true 时其余计数均为零。
type Delta struct {
	Category  string      `json:"category"`
	Mode      Mode        `json:"mode"`
	Seq       uint64      `json:"seq"`
	Added     int         `json:"added"`
	Updated   int         `json:"updated"`
	Rejected  int         `json:"rejected"`
	Watermark int64       `json:"watermark"`
	Stale     bool        `json:"stale"`
	Culled    cull.Result `json:"culled"`
	AppliedAt time.Time   `json:"applied_at"`
}

// 文档注释：快照合并器
// 背景：新实体创建渲染句柄并标记类别需要重新裁剪；已有实体原地更新属性与弹窗，不触发裁剪。
// 约束：只在主事件序列上调用；水位线只进不退；序号不大于已应用序号的响应直接丢弃。
type Reconciler struct {
	store  *registry.Store
	r      render.Renderer
	culler *cull.Culler
	proj   geo.Projector
	log    *slog.Logger

	watermark map[category.Category]int64
	issued    map[category.Category]uint64
	applied   map[category.Category]uint64
}

func New(store *registry.Store, r render.Renderer, culler *cull.Culler, proj geo.Projector) *Reconciler {
	return &Reconciler{
		store:     store,
		r:         r,
		culler:    culler,
		proj:      proj,
		log:       logger.Component("reconcile"),
		watermark: make(map[category.Category]int64),
		issued:    make(map[category.Category]uint64),
		applied:   make(map[category.Category]uint64),
	}
}

// Issue：为即将发起的抓取分配序号
func (rc *Reconciler) Issue(c category.Category) uint64 {
	rc.issued[c]++
	return rc.issued[c]
}

// Watermark：类别当前水位线（unix 秒）；ok=false 表示尚未收到任何水位线
func (rc *Reconciler) Watermark(c category.Category) (int64, bool) {
	w, ok := rc.watermark[c]
	return w, ok
}

// 文档注释：合并快照
// 参数：view 为当前视口，用于批次末尾的裁剪。
// 返回：合并摘要；未知类别返回 *category.ConfigurationError 且不做任何修改。
// 约束：单条记录要么完整替换要么不变；渲染层失败只记录日志，实体保留，下一次快照重试创建句柄。
func (rc *Reconciler) Apply(snap *feed.Snapshot, view geo.Bounds) (Delta, error) {
	if snap == nil {
		return Delta{}, fmt.Errorf("reconcile: nil snapshot")
	}
	cat := snap.Category
	if err := category.Check("reconcile", cat); err != nil {
		return Delta{}, err
	}
	mode := ModeIncremental
	if snap.Full {
		mode = ModeFull
	}
	d := Delta{Category: cat.String(), Mode: mode, Seq: snap.Seq, Rejected: len(snap.Rejected)}

	if last := rc.applied[cat]; snap.Seq != 0 && snap.Seq <= last {
		d.Stale = true
		d.Rejected = 0
		metrics.StaleDroppedTotal.WithLabelValues(cat.String()).Inc()
		rc.log.Warn("reconcile_stale_dropped", "category", cat.String(), "mode", string(mode), "seq", snap.Seq, "applied_seq", last)
		return d, nil
	}

	dirty := false
	for _, it := range snap.Items {
		e, err := rc.store.Upsert(cat, it.ID, it.Attrs, rc.anchorOf(it.Attrs))
		if err != nil {
			return d, err
		}
		if e.Handle == "" {
			h, err := rc.r.Create(e)
			if err != nil {
				rc.log.Error("reconcile_create_error", "category", cat.String(), "id", it.ID, "err", err)
				continue
			}
			if err := rc.store.SetRenderHandle(cat, it.ID, h); err != nil {
				return d, err
			}
			d.Added++
			dirty = true
			continue
		}
		if err := rc.r.Update(e.Handle, e); err != nil {
			rc.log.Error("reconcile_update_error", "category", cat.String(), "id", it.ID, "err", err)
			continue
		}
		d.Updated++
	}
	metrics.ReconcileEntitiesTotal.WithLabelValues(cat.String(), "add").Add(float64(d.Added))
	metrics.ReconcileEntitiesTotal.WithLabelValues(cat.String(), "update").Add(float64(d.Updated))

	if snap.Full || dirty {
		res, err := rc.culler.Run(cat, view)
		if err != nil {
			return d, err
		}
		d.Culled = res
	}

	rc.adoptWatermark(cat, snap.Watermark)
	d.Watermark = rc.watermark[cat]
	if snap.Seq > rc.applied[cat] {
		rc.applied[cat] = snap.Seq
	}
	d.AppliedAt = time.Now().UTC()
	rc.log.Info("reconcile_applied", "category", cat.String(), "mode", string(mode), "seq", snap.Seq, "added", d.Added, "updated", d.Updated, "rejected", d.Rejected, "watermark", d.Watermark)
	return d, nil
}

// adoptWatermark：缺省保持原值；更早的值忽略并记录
func (rc *Reconciler) adoptWatermark(cat category.Category, w *time.Time) {
	if w == nil {
		return
	}
	next := w.Unix()
	if cur, ok := rc.watermark[cat]; ok && next < cur {
		rc.log.Warn("watermark_rewind_ignored", "category", cat.String(), "current", cur, "received", next)
		return
	}
	rc.watermark[cat] = next
	metrics.WatermarkSeconds.WithLabelValues(cat.String()).Set(float64(next))
}

func (rc *Reconciler) anchorOf(a entity.Attributes) geo.Anchor {
	switch v := a.(type) {
	case entity.Zone:
		return geo.AnchorOfRings(rc.proj, v.Polygons)
	case entity.House:
		return geo.AnchorOf(rc.proj, v.Pos)
	case entity.Blip:
		return geo.AnchorOf(rc.proj, v.Pos)
	case entity.Event:
		return geo.AnchorOf(rc.proj, v.Pos)
	}
	return geo.Anchor{}
}
