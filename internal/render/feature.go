package render

import (
	"map-api/internal/entity"
	"map-api/internal/geo"
)

// Feature：地图客户端绘制一个实体所需的全部信息
type Feature struct {
	Handle   entity.Handle  `json:"handle"`
	Category string         `json:"category"`
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Anchor   geo.LatLng     `json:"anchor"`
	Icon     *Icon          `json:"icon,omitempty"`
	Popup    string         `json:"popup"`
	Polygons [][]geo.LatLng `json:"polygons,omitempty"`
}

// Icon：标记图标
type Icon struct {
	URL  string `json:"url"`
	Size [2]int `json:"size"`
}

const (
	iconOwned = "/static/icons/Icon_32.png"
	iconFree  = "/static/icons/Icon_31.png"
	iconEvent = "/static/icons/Icon_53.png"
)

// IconFor：按类别与状态选择图标；区域是多边形，没有图标
func IconFor(a entity.Attributes) *Icon {
	switch v := a.(type) {
	case entity.House:
		if v.Available() {
			return &Icon{URL: iconFree, Size: [2]int{16, 16}}
		}
		return &Icon{URL: iconOwned, Size: [2]int{16, 16}}
	case entity.Blip:
		return &Icon{URL: "/static/" + v.Icon, Size: [2]int{16, 16}}
	case entity.Event:
		return &Icon{URL: iconEvent, Size: [2]int{16, 16}}
	case entity.Zone:
		return nil
	}
	return nil
}
