// 包 render：渲染层协作者；在服务端维护与浏览器地图一致的场景，并把挂载/卸载/更新/聚焦转换推送给订阅者
package render

import (
	"errors"
	"fmt"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/geo"
	"map-api/internal/logger"

	"github.com/google/uuid"
)

// ErrUnknownHandle：句柄不属于当前场景
var ErrUnknownHandle = errors.New("render: unknown handle")

// Renderer：核心对渲染层的全部依赖
// 约束：Create 只把实体加入类别图层组，不挂到地图上；挂载由裁剪决定。
type Renderer interface {
	Create(e *entity.Entity) (entity.Handle, error)
	Update(h entity.Handle, e *entity.Entity) error
	Attach(h entity.Handle) error
	Detach(h entity.Handle) error
	Attached(h entity.Handle) bool
	Focus(h entity.Handle, popup string) error
}

// Kind：场景转换类型
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindAttach Kind = "attach"
	KindDetach Kind = "detach"
	KindFocus  Kind = "focus"
)

// Transition：推送给地图客户端的一次场景变化（不可变值）
type Transition struct {
	Kind    Kind          `json:"kind"`
	Handle  entity.Handle `json:"handle"`
	Feature *Feature      `json:"feature,omitempty"`
	FlyTo   *geo.Bounds   `json:"fly_to,omitempty"`
}

// Sink：转换的消费者；实现方不得阻塞
type Sink interface {
	Publish(t Transition)
}

type node struct {
	feature  Feature
	attached bool
}

// 文档注释：场景
// 背景：对应地图库中的图层组 + 地图本身；句柄是 UUID，实体更新时句柄不变。
// 约束：只在主事件序列上调用，不加锁；订阅者自行处理并发。
type Scene struct {
	proj  geo.Projector
	nodes map[entity.Handle]*node
	sinks []Sink
}

func NewScene(proj geo.Projector) *Scene {
	return &Scene{proj: proj, nodes: make(map[entity.Handle]*node)}
}

// Subscribe：注册转换订阅者
func (s *Scene) Subscribe(k Sink) { s.sinks = append(s.sinks, k) }

func (s *Scene) publish(t Transition) {
	for _, k := range s.sinks {
		k.Publish(t)
	}
}

// Create：为实体创建表现形式并加入图层组
func (s *Scene) Create(e *entity.Entity) (entity.Handle, error) {
	if err := category.Check("render_create", e.Category); err != nil {
		return "", err
	}
	h := entity.Handle(uuid.NewString())
	f := s.featureOf(h, e)
	s.nodes[h] = &node{feature: f}
	s.publish(Transition{Kind: KindCreate, Handle: h, Feature: &f})
	return h, nil
}

// Update：原地刷新图标与弹窗内容，不改变挂载状态
func (s *Scene) Update(h entity.Handle, e *entity.Entity) error {
	n, ok := s.nodes[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	n.feature = s.featureOf(h, e)
	f := n.feature
	s.publish(Transition{Kind: KindUpdate, Handle: h, Feature: &f})
	return nil
}

// Attach：挂到地图；已挂载时不产生转换
func (s *Scene) Attach(h entity.Handle) error {
	n, ok := s.nodes[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if n.attached {
		return nil
	}
	n.attached = true
	f := n.feature
	s.publish(Transition{Kind: KindAttach, Handle: h, Feature: &f})
	return nil
}

// Detach：从地图卸载；未挂载时不产生转换
func (s *Scene) Detach(h entity.Handle) error {
	n, ok := s.nodes[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if !n.attached {
		return nil
	}
	n.attached = false
	s.publish(Transition{Kind: KindDetach, Handle: h})
	return nil
}

// Attached：当前是否挂在地图上
func (s *Scene) Attached(h entity.Handle) bool {
	n, ok := s.nodes[h]
	return ok && n.attached
}

// 文档注释：聚焦（飞到范围并打开弹窗）
// 背景：搜索选中后的副作用；popup 非空时覆盖实体默认弹窗（区域弹窗需要实时房屋统计）。
// 约束：区域飞到外接矩形，点状实体飞到锚点；不改变挂载状态。
func (s *Scene) Focus(h entity.Handle, popup string) error {
	n, ok := s.nodes[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	f := n.feature
	if popup != "" {
		f.Popup = popup
	}
	fly := geo.NewBounds(f.Anchor, f.Anchor)
	first := true
	for _, ring := range f.Polygons {
		for _, p := range ring {
			if first {
				fly = geo.NewBounds(p, p)
				first = false
				continue
			}
			fly = fly.Extend(p)
		}
	}
	s.publish(Transition{Kind: KindFocus, Handle: h, Feature: &f, FlyTo: &fly})
	return nil
}

// Snapshot：当前全部已挂载要素，供新连接的客户端补齐状态
func (s *Scene) Snapshot() []Feature {
	out := make([]Feature, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.attached {
			out = append(out, n.feature)
		}
	}
	return out
}

func (s *Scene) featureOf(h entity.Handle, e *entity.Entity) Feature {
	f := Feature{
		Handle:   h,
		Category: e.Category.String(),
		ID:       e.ID,
		Name:     e.DisplayName,
		Anchor:   e.Anchor.Point,
		Icon:     IconFor(e.Attributes),
		Popup:    PopupFor(e.ID, e.Attributes),
	}
	if z, ok := e.Attributes.(entity.Zone); ok {
		for _, ring := range z.Polygons {
			var out []geo.LatLng
			for _, p := range ring {
				ll, err := s.proj.Unproject(p)
				if err != nil {
					logger.L().Warn("render_vertex_unprojectable", "category", f.Category, "id", e.ID)
					continue
				}
				out = append(out, ll)
			}
			f.Polygons = append(f.Polygons, out)
		}
	}
	return f
}
