package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"map-api/internal/category"
	"map-api/internal/cull"
	"map-api/internal/entity"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/logger"
	"map-api/internal/reconcile"
	"map-api/internal/registry"
	"map-api/internal/render"
	"map-api/internal/search"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidBounds：视口四边非有限值或方向颠倒
var ErrInvalidBounds = errors.New("app: invalid viewport bounds")

// Fetcher：点位抓取
type Fetcher interface {
	Fetch(ctx context.Context, cat category.Category, since *int64) (*feed.Snapshot, error)
}

// Journal：同步结果的持久化记录；写入在抓取协程上执行，不占用主事件序列
type Journal interface {
	Record(ctx context.Context, d reconcile.Delta) error
}

// Deps：构建 App 所需的外部协作者；Journal、SearchBackend 与 Redis 可为空
type Deps struct {
	Feed          Fetcher
	Projector     geo.Projector
	Viewport      geo.Bounds
	Journal       Journal
	SearchBackend search.Backend
	Redis         *redis.Client
	SearchOptions search.Options
}

// 文档注释：应用根对象
// 背景：持有注册表、场景、裁剪器、合并器、搜索与当前视口，按依赖顺序构造并显式传递，不使用包级单例。
// 约束：除 loop 外所有字段只在主事件序列上读写；对外方法均通过 Loop.Call 进入。
type App struct {
	loop    *Loop
	store   *registry.Store
	scene   *render.Scene
	culler  *cull.Culler
	rec     *reconcile.Reconciler
	search  *search.Service
	proj    geo.Projector
	feed    Fetcher
	journal Journal
	view    geo.Bounds
	log     *slog.Logger
}

func New(d Deps) *App {
	st := registry.New()
	sc := render.NewScene(d.Projector)
	cu := cull.New(st, sc)
	a := &App{
		loop:    NewLoop(256),
		store:   st,
		scene:   sc,
		culler:  cu,
		rec:     reconcile.New(st, sc, cu, d.Projector),
		proj:    d.Projector,
		feed:    d.Feed,
		journal: d.Journal,
		view:    d.Viewport,
		log:     logger.Component("app"),
	}
	a.search = search.NewService(d.SearchBackend, a, d.Redis, d.SearchOptions)
	return a
}

// Subscribe：注册场景转换订阅者；须在 Start 之前调用
func (a *App) Subscribe(s render.Sink) { a.scene.Subscribe(s) }

// Start：在后台协程运行主事件序列
func (a *App) Start(ctx context.Context) { go a.loop.Run(ctx) }

// Loop：主事件序列
func (a *App) Loop() *Loop { return a.loop }

// 文档注释：启动加载
// 背景：四个类别并行抓取，各自的结果回到主事件序列上按全量快照合并；互不阻塞，某个类别失败不影响其余类别。
// 返回：所有失败类别的错误合并。
func (a *App) LoadAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, cat := range category.All {
		wg.Add(1)
		go func(cat category.Category) {
			defer wg.Done()
			if _, err := a.sync(ctx, cat, true); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("load %s: %w", cat, err))
				mu.Unlock()
			}
		}(cat)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Refresh：按当前水位线增量抓取房屋；作为轮询任务使用
func (a *App) Refresh(ctx context.Context) (reconcile.Delta, error) {
	return a.sync(ctx, category.House, false)
}

func (a *App) sync(ctx context.Context, cat category.Category, full bool) (reconcile.Delta, error) {
	var (
		seq   uint64
		since *int64
	)
	err := a.loop.Call(ctx, func() error {
		seq = a.rec.Issue(cat)
		if !full {
			w, _ := a.rec.Watermark(cat)
			since = &w
		}
		return nil
	})
	if err != nil {
		return reconcile.Delta{}, err
	}
	snap, err := a.feed.Fetch(ctx, cat, since)
	if err != nil {
		a.log.Error("sync_fetch_error", "category", cat.String(), "full", full, "seq", seq, "err", err)
		return reconcile.Delta{}, err
	}
	snap.Seq = seq
	var d reconcile.Delta
	err = a.loop.Call(ctx, func() error {
		var err error
		d, err = a.rec.Apply(snap, a.view)
		return err
	})
	if err != nil {
		var ce *category.ConfigurationError
		if errors.As(err, &ce) {
			a.log.Error("sync_configuration_error", "category", cat.String(), "err", err)
		}
		return d, err
	}
	if a.journal != nil && !d.Stale {
		if err := a.journal.Record(ctx, d); err != nil {
			a.log.Warn("sync_journal_error", "category", cat.String(), "err", err)
		}
	}
	return d, nil
}

// OnMapEvent：地图客户端上报的视口变化；记录视口并对全部可裁剪类别重新裁剪
func (a *App) OnMapEvent(ctx context.Context, ev cull.MapEvent, b geo.Bounds) (cull.Result, error) {
	if !b.Valid() {
		return cull.Result{}, ErrInvalidBounds
	}
	var res cull.Result
	err := a.loop.Call(ctx, func() error {
		a.view = b
		res = a.culler.OnMapEvent(ev, b)
		return nil
	})
	return res, err
}

// Viewport：当前视口
func (a *App) Viewport(ctx context.Context) (geo.Bounds, error) {
	var b geo.Bounds
	err := a.loop.Call(ctx, func() error {
		b = a.view
		return nil
	})
	return b, err
}

// Suggest：搜索建议
func (a *App) Suggest(ctx context.Context, query string) []search.Result {
	return a.search.Suggest(ctx, query)
}

// Index：实现 search.Local；在主事件序列上读取可搜索实体
func (a *App) Index(ctx context.Context) (*search.Index, error) {
	var ix *search.Index
	err := a.loop.Call(ctx, func() error {
		ix = search.NewIndex(a.store.Searchable())
		return nil
	})
	return ix, err
}

// Select：选中搜索结果并聚焦；ok=false 表示无法解析到本地实体
func (a *App) Select(ctx context.Context, group string, id int64) (bool, error) {
	var ok bool
	err := a.loop.Call(ctx, func() error {
		var err error
		ok, err = search.Select(a.store, a.scene, group, id)
		return err
	})
	return ok, err
}

// EntityState：注册表条目加挂载状态
type EntityState struct {
	*entity.Entity
	Category string `json:"category"`
	Attached bool   `json:"attached"`
}

// State：类别下全部实体及其挂载状态
func (a *App) State(ctx context.Context, cat category.Category) ([]EntityState, error) {
	var out []EntityState
	err := a.loop.Call(ctx, func() error {
		all, err := a.store.All(cat)
		if err != nil {
			return err
		}
		out = make([]EntityState, 0, len(all))
		for _, e := range all {
			cp := *e
			out = append(out, EntityState{Entity: &cp, Category: cat.String(), Attached: e.Handle != "" && a.scene.Attached(e.Handle)})
		}
		return nil
	})
	return out, err
}

// HouseView：单个房屋的展示数据（嵌入式房屋卡片使用）
type HouseView struct {
	ID       int64      `json:"id"`
	X        float64    `json:"x"`
	Y        float64    `json:"y"`
	Title    string     `json:"title"`
	Location string     `json:"location"`
	Owner    *string    `json:"owner"`
	Price    float64    `json:"price"`
	Expires  *time.Time `json:"expires"`
	Attached bool       `json:"attached"`
}

// House：按 id 读取房屋；不存在返回 nil
func (a *App) House(ctx context.Context, id int64) (*HouseView, error) {
	var out *HouseView
	err := a.loop.Call(ctx, func() error {
		e, ok := a.store.Get(category.House, id)
		if !ok {
			return nil
		}
		h, ok := e.Attributes.(entity.House)
		if !ok {
			return fmt.Errorf("app: house %d has %T attributes", id, e.Attributes)
		}
		out = &HouseView{
			ID:       e.ID,
			X:        h.Pos.X,
			Y:        h.Pos.Y,
			Title:    h.Title,
			Location: h.Location,
			Owner:    h.Owner,
			Price:    h.Price,
			Expires:  h.Expires,
			Attached: e.Handle != "" && a.scene.Attached(e.Handle),
		}
		return nil
	})
	return out, err
}

// ZoneHit：坐标所在区域
type ZoneHit struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// 文档注释：按像素坐标查找区域
// 背景：区域可能嵌套（城市包含街区），返回包含该点的面积最小的区域；上游数据不带父区域字段，面积最小即最内层。
// 约束：面积相同时取 id 较小者；边界上的点结果不稳定。
// 返回：未命中返回 nil。
func (a *App) LookupZone(ctx context.Context, p geo.Pixel) (*ZoneHit, error) {
	var hit *ZoneHit
	pt := orb.Point{p.X, p.Y}
	err := a.loop.Call(ctx, func() error {
		all, err := a.store.All(category.Zone)
		if err != nil {
			return err
		}
		best := -1.0
		for _, e := range all {
			z, ok := e.Attributes.(entity.Zone)
			if !ok {
				continue
			}
			mp := geo.MultiPolygon(z.Polygons)
			if !planar.MultiPolygonContains(mp, pt) {
				continue
			}
			area := planar.Area(mp)
			if best < 0 || area < best || (area == best && e.ID < hit.ID) {
				best = area
				hit = &ZoneHit{ID: e.ID, Name: z.Name, Description: z.Description}
			}
		}
		return nil
	})
	return hit, err
}

// ZoneStats：区域内房屋统计；ok=false 表示区域不存在
func (a *App) ZoneStats(ctx context.Context, id int64) (render.ZoneStats, bool, error) {
	var (
		st render.ZoneStats
		ok bool
	)
	err := a.loop.Call(ctx, func() error {
		e, found := a.store.Get(category.Zone, id)
		if !found {
			return nil
		}
		ok = true
		st = render.StatsOf(a.store.HousesIn(e.DisplayName))
		return nil
	})
	return st, ok, err
}

// GeoJSON：类别的 GeoJSON 要素集合
func (a *App) GeoJSON(ctx context.Context, cat category.Category) (*geojson.FeatureCollection, error) {
	var fc *geojson.FeatureCollection
	err := a.loop.Call(ctx, func() error {
		all, err := a.store.All(cat)
		if err != nil {
			return err
		}
		fc = render.FeatureCollection(a.proj, all)
		return nil
	})
	return fc, err
}

// Watermark：房屋水位线（unix 秒）
func (a *App) Watermark(ctx context.Context) (int64, bool, error) {
	var (
		w  int64
		ok bool
	)
	err := a.loop.Call(ctx, func() error {
		w, ok = a.rec.Watermark(category.House)
		return nil
	})
	return w, ok, err
}

// Snapshot：当前已挂载要素，供新连接的地图客户端补齐状态
func (a *App) Snapshot(ctx context.Context) ([]render.Feature, error) {
	var out []render.Feature
	err := a.loop.Call(ctx, func() error {
		out = a.scene.Snapshot()
		return nil
	})
	return out, err
}

// Counts：各类别实体数量
func (a *App) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(category.All))
	err := a.loop.Call(ctx, func() error {
		for _, c := range category.All {
			out[c.String()] = a.store.Len(c)
		}
		return nil
	})
	return out, err
}
