package render

import (
	"map-api/internal/entity"
	"map-api/internal/geo"

	geojson "github.com/paulmach/go.geojson"
)

// 文档注释：导出 GeoJSON 要素集合
// 背景：供外部地图工具或离线分析直接加载；区域导出为 (Multi)Polygon，其余类别导出为锚点 Point。
// 约束：坐标顺序为 [lng, lat]；无有效锚点的点状实体跳过；顶点投影失败的区域部分跳过。
func FeatureCollection(proj geo.Projector, entities []*entity.Entity) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range entities {
		var f *geojson.Feature
		if z, ok := e.Attributes.(entity.Zone); ok {
			var parts [][][][]float64
			for _, ring := range z.Polygons {
				var coords [][]float64
				for _, p := range ring {
					ll, err := proj.Unproject(p)
					if err != nil {
						coords = nil
						break
					}
					coords = append(coords, []float64{ll.Lng, ll.Lat})
				}
				if len(coords) >= 3 {
					parts = append(parts, [][][]float64{closeRing(coords)})
				}
			}
			switch len(parts) {
			case 0:
				continue
			case 1:
				f = geojson.NewPolygonFeature(parts[0])
			default:
				f = geojson.NewMultiPolygonFeature(parts...)
			}
			f.SetProperty("description", z.Description)
		} else {
			if !e.Anchor.Valid {
				continue
			}
			f = geojson.NewPointFeature([]float64{e.Anchor.Point.Lng, e.Anchor.Point.Lat})
			if ic := IconFor(e.Attributes); ic != nil {
				f.SetProperty("icon", ic.URL)
			}
		}
		f.ID = e.ID
		f.SetProperty("category", e.Category.String())
		f.SetProperty("name", e.DisplayName)
		if e.Handle != "" {
			f.SetProperty("handle", string(e.Handle))
		}
		fc.AddFeature(f)
	}
	return fc
}

func closeRing(c [][]float64) [][]float64 {
	first, last := c[0], c[len(c)-1]
	if first[0] == last[0] && first[1] == last[1] {
		return c
	}
	return append(c, []float64{first[0], first[1]})
}
