package geo

import "math"

// 文档注释：地图几何的最小数据结构
// 背景：实体坐标在上游以固定尺寸底图的像素坐标给出，渲染层使用经纬度；两套坐标分别建模，避免混用。
// 约束：像素坐标 Y 轴向下；经纬度按 Web 墨卡托约定，纬度 [-90,90]，经度 [-180,180]。
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid：有限值且落在合法经纬度区间
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Pixel：底图像素坐标
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Pixel) finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Ring：闭合或未闭合的顶点序列；区域的每个部分只有外环，没有洞
type Ring []Pixel

// Bounds：视口矩形（南/西/北/东）
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// NewBounds：由任意两个对角点构造并规范化
func NewBounds(a, b LatLng) Bounds {
	return Bounds{
		South: math.Min(a.Lat, b.Lat),
		West:  math.Min(a.Lng, b.Lng),
		North: math.Max(a.Lat, b.Lat),
		East:  math.Max(a.Lng, b.Lng),
	}
}

// Valid：四个边均有限且南不大于北、西不大于东
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.South, b.West, b.North, b.East} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.South <= b.North && b.West <= b.East
}

// Contains：闭区间包含判定（边界上的点视为可见）
func (b Bounds) Contains(p LatLng) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lng >= b.West && p.Lng <= b.East
}

// Extend：扩展到包含点 p
func (b Bounds) Extend(p LatLng) Bounds {
	return Bounds{
		South: math.Min(b.South, p.Lat),
		West:  math.Min(b.West, p.Lng),
		North: math.Max(b.North, p.Lat),
		East:  math.Max(b.East, p.Lng),
	}
}

// Anchor：实体用于可见性判定的单点；Valid=false 时永不挂载
type Anchor struct {
	Point LatLng `json:"point"`
	Valid bool   `json:"valid"`
}
