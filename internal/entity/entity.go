// 包 entity：实体及各类别专属属性；属性以封闭接口表达，只允许本包内的四种实现
package entity

import (
	"time"

	"map-api/internal/category"
	"map-api/internal/geo"
)

// Handle：渲染层中实体表现形式的不透明引用；空字符串表示尚未创建
type Handle string

// Attributes：类别专属属性（封闭接口）
type Attributes interface {
	Category() category.Category
	DisplayName() string
	isAttributes()
}

// House：可出租房屋
// 约束：Owner 为 nil 表示空闲；Expires 为 nil 表示无租期
type House struct {
	Name     string     `json:"name"`
	Title    string     `json:"title"`
	Location string     `json:"location"`
	Owner    *string    `json:"owner"`
	Price    float64    `json:"price"`
	Expires  *time.Time `json:"expires"`
	Pos      geo.Pixel  `json:"pos"`
}

func (House) Category() category.Category { return category.House }
func (h House) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Title
}
func (House) isAttributes() {}

// Available：无房主即可出租
func (h House) Available() bool { return h.Owner == nil }

// Zone：地名区域，几何由一个或多个外环组成
type Zone struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Polygons    []geo.Ring `json:"polygons"`
}

func (Zone) Category() category.Category { return category.Zone }
func (z Zone) DisplayName() string         { return z.Name }
func (Zone) isAttributes()                 {}

// Blip：地图图标点
type Blip struct {
	Name string    `json:"name"`
	Icon string    `json:"icon"`
	Pos  geo.Pixel `json:"pos"`
}

func (Blip) Category() category.Category { return category.Blip }
func (b Blip) DisplayName() string         { return b.Name }
func (Blip) isAttributes()                 {}

// Event：论坛公告的游戏内活动
type Event struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	PostURL     string     `json:"post_url"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	Pos         geo.Pixel  `json:"pos"`
}

func (Event) Category() category.Category { return category.Event }
func (e Event) DisplayName() string         { return e.Name }
func (Event) isAttributes()                 {}

// Entity：注册表中的条目
// 约束：同一类别内 ID 唯一；Handle 在 upsert 间保持不变
type Entity struct {
	ID          int64             `json:"id"`
	Category    category.Category `json:"-"`
	DisplayName string            `json:"name"`
	Handle      Handle            `json:"handle,omitempty"`
	Searchable  bool              `json:"searchable"`
	Anchor      geo.Anchor        `json:"anchor"`
	Attributes  Attributes        `json:"attributes"`
}

// Key：跨类别唯一键
type Key struct {
	Category category.Category
	ID       int64
}

func (e *Entity) Key() Key { return Key{Category: e.Category, ID: e.ID} }
