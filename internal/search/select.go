package search

import (
	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/registry"
	"map-api/internal/render"
)

// 文档注释：选中搜索结果
// 背景：分组映射到本地类别（zones/houses），找到实体后飞到其范围并打开弹窗；区域弹窗附带实时房屋统计。
// 返回：ok=false 表示分组无本地实体（如 jobs）或实体尚未加载，此时不做任何事。
// 约束：只在主事件序列上调用。
func Select(store *registry.Store, r render.Renderer, group string, id int64) (bool, error) {
	cat, ok := category.FromGroup(group)
	if !ok {
		return false, nil
	}
	e, ok := store.Get(cat, id)
	if !ok || e.Handle == "" {
		return false, nil
	}
	popup := ""
	if z, ok := e.Attributes.(entity.Zone); ok {
		popup = render.ZonePopup(z, store.HousesIn(z.Name))
	}
	if err := r.Focus(e.Handle, popup); err != nil {
		return false, err
	}
	return true, nil
}
