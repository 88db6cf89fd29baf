// 包 search：搜索索引适配；负责候选过滤、上游结果缓存与清洗、本地回退以及选中后的聚焦
package search

import (
	"sort"
	"strings"

	"map-api/internal/category"
	"map-api/internal/entity"
)

// 文档注释：匹配规则
// 背景：查询按空白切分为若干词，名称（大小写折叠后）必须包含每一个词，词序无关。
// 约束：空查询视为全部匹配，最小长度由 Suggest 负责。
func Match(query, name string) bool {
	hay := strings.ToLower(name)
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(hay, tok) {
			return false
		}
	}
	return true
}

// Result：返回给搜索组件的一条建议
type Result struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Highlighted string `json:"highlighted,omitempty"`
}

// Entry：本地索引条目（类别, ID, 名称）
type Entry struct {
	Category category.Category
	ID       int64
	Name     string
}

// Index：可搜索实体的本地快照，后端不可用时提供候选
type Index struct {
	entries []Entry
}

// NewIndex：由注册表中的可搜索实体构建索引；按名称排序以保证结果稳定
func NewIndex(ents []*entity.Entity) *Index {
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		if !e.Searchable || e.DisplayName == "" {
			continue
		}
		out = append(out, Entry{Category: e.Category, ID: e.ID, Name: e.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return &Index{entries: out}
}

// Len：条目数
func (ix *Index) Len() int { return len(ix.entries) }

// Lookup：返回至多 limit 条匹配；limit<=0 表示不限
func (ix *Index) Lookup(query string, limit int) []Result {
	var out []Result
	for _, e := range ix.entries {
		if !Match(query, e.Name) {
			continue
		}
		out = append(out, Result{ID: e.ID, Name: e.Name, Group: e.Category.Path()})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
