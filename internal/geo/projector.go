package geo

import (
	"errors"
	"math"
)

// ErrUnprojectable：像素坐标非有限值
var ErrUnprojectable = errors.New("geo: pixel not projectable")

// Projector：像素 → 经纬度的外部投影器
// 背景：核心只消费投影结果，不关心具体算法；测试可注入线性投影。
type Projector interface {
	Unproject(p Pixel) (LatLng, error)
}

// 文档注释：栅格底图投影器
// 背景：与瓦片渲染约定一致，底图最长边按瓦片尺寸取整到 2 的幂次缩放级别，再按 Web 墨卡托反投影。
// 约束：width/height 为底图像素尺寸；tile 默认 256。
type RasterProjector struct {
	width  int
	height int
	tile   int
	zoom   int
}

func NewRasterProjector(width, height, tile int) *RasterProjector {
	if tile <= 0 {
		tile = 256
	}
	side := math.Max(float64(width), float64(height))
	zoom := int(math.Ceil(math.Log2(side / float64(tile))))
	if zoom < 0 {
		zoom = 0
	}
	return &RasterProjector{width: width, height: height, tile: tile, zoom: zoom}
}

// Zoom：底图原始分辨率所在的缩放级别
func (r *RasterProjector) Zoom() int { return r.zoom }

// Unproject：像素坐标转经纬度
func (r *RasterProjector) Unproject(p Pixel) (LatLng, error) {
	if !p.finite() {
		return LatLng{}, ErrUnprojectable
	}
	scale := float64(r.tile) * math.Exp2(float64(r.zoom))
	nx := p.X / scale
	ny := p.Y / scale
	lng := nx*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*ny))) * 180 / math.Pi
	out := LatLng{Lat: lat, Lng: lng}
	if !out.Valid() {
		return LatLng{}, ErrUnprojectable
	}
	return out, nil
}

// Project：经纬度转像素坐标（Unproject 的逆）
func (r *RasterProjector) Project(p LatLng) Pixel {
	scale := float64(r.tile) * math.Exp2(float64(r.zoom))
	nx := (p.Lng + 180) / 360
	latRad := p.Lat * math.Pi / 180
	ny := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return Pixel{X: nx * scale, Y: ny * scale}
}

// BoundsOf：像素矩形（两个对角）对应的经纬度视口
func BoundsOf(pr Projector, a, b Pixel) (Bounds, error) {
	la, err := pr.Unproject(a)
	if err != nil {
		return Bounds{}, err
	}
	lb, err := pr.Unproject(b)
	if err != nil {
		return Bounds{}, err
	}
	return NewBounds(la, lb), nil
}

// AnchorOf：由像素点求锚点；投影失败返回无效锚点
func AnchorOf(pr Projector, p Pixel) Anchor {
	ll, err := pr.Unproject(p)
	if err != nil {
		return Anchor{}
	}
	return Anchor{Point: ll, Valid: true}
}

// AnchorOfRings：区域锚点取像素质心后投影
func AnchorOfRings(pr Projector, rings []Ring) Anchor {
	c, ok := Centroid(rings)
	if !ok {
		return Anchor{}
	}
	return AnchorOf(pr, c)
}
