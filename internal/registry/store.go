// 包 registry：实体注册表（类别 → ID → 实体），只在主事件序列上读写，因此不加锁
package registry

import (
	"errors"
	"fmt"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/geo"
)

// ErrNotFound：SetRenderHandle 等写操作找不到目标实体
var ErrNotFound = errors.New("registry: entity not found")

// Store：实体注册表
// 背景：渲染句柄与实体元数据放在同一条目中，增量更新时只替换属性、保留句柄。
// 约束：实体一经出现便在会话内常驻，后续快照缺席不会删除（服务端约定实体不删除）。
type Store struct {
	byCat map[category.Category]map[int64]*entity.Entity
}

func New() *Store {
	s := &Store{byCat: make(map[category.Category]map[int64]*entity.Entity, len(category.All))}
	for _, c := range category.All {
		s.byCat[c] = make(map[int64]*entity.Entity)
	}
	return s
}

// 文档注释：插入或替换属性
// 背景：已存在时原地替换属性、显示名与锚点，保留句柄与类别；三者一次性赋值，不存在半更新状态。
// 异常：未知类别或属性类别与参数不一致返回 *category.ConfigurationError。
func (s *Store) Upsert(c category.Category, id int64, attrs entity.Attributes, anchor geo.Anchor) (*entity.Entity, error) {
	m, err := s.bucket("upsert", c)
	if err != nil {
		return nil, err
	}
	if attrs == nil || attrs.Category() != c {
		return nil, &category.ConfigurationError{Name: c.String(), Op: "upsert: attributes mismatch"}
	}
	if e, ok := m[id]; ok {
		e.Attributes = attrs
		e.DisplayName = attrs.DisplayName()
		e.Anchor = anchor
		return e, nil
	}
	e := &entity.Entity{
		ID:          id,
		Category:    c,
		DisplayName: attrs.DisplayName(),
		Searchable:  c.Searchable(),
		Anchor:      anchor,
		Attributes:  attrs,
	}
	m[id] = e
	return e, nil
}

// Get：按 ID 查找
func (s *Store) Get(c category.Category, id int64) (*entity.Entity, bool) {
	m, ok := s.byCat[c]
	if !ok {
		return nil, false
	}
	e, ok := m[id]
	return e, ok
}

// All：类别下全部实体（无序）
func (s *Store) All(c category.Category) ([]*entity.Entity, error) {
	m, err := s.bucket("all", c)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out, nil
}

// SetRenderHandle：记录实体在渲染层中的句柄
func (s *Store) SetRenderHandle(c category.Category, id int64, h entity.Handle) error {
	m, err := s.bucket("set_render_handle", c)
	if err != nil {
		return err
	}
	e, ok := m[id]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrNotFound, c, id)
	}
	e.Handle = h
	return nil
}

// Len：类别下实体数量
func (s *Store) Len(c category.Category) int { return len(s.byCat[c]) }

// Searchable：全部可搜索实体
func (s *Store) Searchable() []*entity.Entity {
	var out []*entity.Entity
	for _, c := range category.All {
		for _, e := range s.byCat[c] {
			if e.Searchable {
				out = append(out, e)
			}
		}
	}
	return out
}

// HousesIn：位置名等于区域名的房屋
func (s *Store) HousesIn(zoneName string) []entity.House {
	var out []entity.House
	for _, e := range s.byCat[category.House] {
		if h, ok := e.Attributes.(entity.House); ok && h.Location == zoneName {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) bucket(op string, c category.Category) (map[int64]*entity.Entity, error) {
	if err := category.Check(op, c); err != nil {
		return nil, err
	}
	return s.byCat[c], nil
}
