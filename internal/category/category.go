// 包 category：地图实体类别的封闭枚举；新增或拼错类别应在编译期暴露，而不是在运行时按字符串分支
package category

import (
	"fmt"
	"strings"
)

// Category：实体类别（区域/房屋/图标点/活动）
// 约束：零值非法；所有 switch 必须覆盖全部四个取值
type Category uint8

const (
	Zone Category = iota + 1
	House
	Blip
	Event
)

// All：全部类别，按启动加载顺序排列
var All = []Category{Zone, House, Blip, Event}

func (c Category) String() string {
	switch c {
	case Zone:
		return "zone"
	case House:
		return "house"
	case Blip:
		return "blip"
	case Event:
		return "event"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid：是否为已知类别
func (c Category) Valid() bool {
	switch c {
	case Zone, House, Blip, Event:
		return true
	}
	return false
}

// Path：上游接口路径片段（/api/v1/points/<path>），同时作为搜索分组名
func (c Category) Path() string {
	switch c {
	case Zone:
		return "zones"
	case House:
		return "houses"
	case Blip:
		return "blips"
	case Event:
		return "events"
	}
	return ""
}

// Culled：是否参与视口裁剪
// 背景：区域数量少且作为底图层，始终渲染
func (c Category) Culled() bool {
	switch c {
	case Zone:
		return false
	case House, Blip, Event:
		return true
	}
	return false
}

// Volatile：是否为需要按水位线增量轮询的易变类别
func (c Category) Volatile() bool {
	switch c {
	case House:
		return true
	case Zone, Blip, Event:
		return false
	}
	return false
}

// Searchable：是否进入搜索索引（与上游搜索接口的分组一致）
func (c Category) Searchable() bool {
	switch c {
	case Zone, House:
		return true
	case Blip, Event:
		return false
	}
	return false
}

// Parse：解析类别名，接受单数与复数形式（zone/zones）
// 异常：未知名称返回 *ConfigurationError，属于调用方编程错误
func Parse(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zone", "zones":
		return Zone, nil
	case "house", "houses":
		return House, nil
	case "blip", "blips":
		return Blip, nil
	case "event", "events":
		return Event, nil
	}
	return 0, &ConfigurationError{Name: s}
}

// FromGroup：搜索结果分组到类别的映射；jobs 等无本地实体的分组返回 false
func FromGroup(group string) (Category, bool) {
	switch group {
	case "zones":
		return Zone, true
	case "houses":
		return House, true
	}
	return 0, false
}

// ConfigurationError：内部传入了未知类别
// 约束：不可吞掉；上层应大声失败（日志 error 级别或返回 4xx/5xx）
type ConfigurationError struct {
	Name string
	Op   string
}

func (e *ConfigurationError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: unknown category %q", e.Op, e.Name)
	}
	return fmt.Sprintf("unknown category %q", e.Name)
}

// Check：校验类别，非法时返回携带操作名的 ConfigurationError
func Check(op string, c Category) error {
	if c.Valid() {
		return nil
	}
	return &ConfigurationError{Name: c.String(), Op: op}
}
