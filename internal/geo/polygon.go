package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：区域像素几何转换为 orb 多面
// 背景：区域的每个部分只有外环，没有洞；每个环成为一个单环多边形，未闭合的环自动补上首点。
// 约束：坐标沿用像素坐标（Y 轴向下），只用于平面计算，不做投影；空环跳过。
func MultiPolygon(rings []Ring) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, 0, len(rings))
	for _, r := range rings {
		if len(r) == 0 {
			continue
		}
		ring := make(orb.Ring, 0, len(r)+1)
		for _, p := range r {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}

// 文档注释：区域锚点（面积加权质心）
// 背景：多部分区域把所有部分视为一个整体求质心；退化（面积为 0）时退回顶点均值。
// 返回：ok=false 表示没有任何可用顶点或存在非有限顶点。
func Centroid(rings []Ring) (Pixel, bool) {
	var pts orb.MultiPoint
	for _, r := range rings {
		for _, p := range r {
			if !p.finite() {
				return Pixel{}, false
			}
			pts = append(pts, orb.Point{p.X, p.Y})
		}
	}
	if len(pts) == 0 {
		return Pixel{}, false
	}
	c, area := planar.CentroidArea(MultiPolygon(rings))
	if area == 0 {
		c, _ = planar.CentroidArea(pts)
	}
	return Pixel{X: c.X(), Y: c.Y()}, true
}
