package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/geo"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp：解析上游 ISO-8601 时间戳；无时区的值按 UTC 处理
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

type zoneWire struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Points      json.RawMessage `json:"points"`
}

type houseWire struct {
	ID       int64    `json:"id"`
	Name     *string  `json:"name"`
	Title    string   `json:"title"`
	Location *string  `json:"location"`
	Owner    *string  `json:"owner"`
	Price    *float64 `json:"price"`
	Expires  *string  `json:"expires"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
}

type blipWire struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Icon string  `json:"icon"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type eventWire struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	PostURL     string  `json:"post_url"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// 文档注释：校验并解码单条记录
// 背景：先按类别 schema 校验，再解码成强类型属性；任一步失败都返回 *MalformedResponse，不产生部分属性。
func decodeItem(c category.Category, index int, raw json.RawMessage) (Item, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Item{}, &MalformedResponse{Category: c, Index: index, Reason: err.Error()}
	}
	id := idOf(doc)
	bad := func(reason string) (Item, error) {
		return Item{}, &MalformedResponse{Category: c, Index: index, ID: id, Reason: reason}
	}
	sch, err := schemaFor(c)
	if err != nil {
		return Item{}, err
	}
	if err := sch.Validate(doc); err != nil {
		return bad(err.Error())
	}
	switch c {
	case category.Zone:
		var w zoneWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return bad(err.Error())
		}
		rings, err := parsePoints(w.Points)
		if err != nil {
			return bad(err.Error())
		}
		return Item{ID: w.ID, Attrs: entity.Zone{Name: w.Name, Description: deref(w.Description), Polygons: rings}}, nil
	case category.House:
		var w houseWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return bad(err.Error())
		}
		pos, err := pixel(w.X, w.Y)
		if err != nil {
			return bad(err.Error())
		}
		h := entity.House{Name: deref(w.Name), Title: w.Title, Location: deref(w.Location), Owner: w.Owner, Pos: pos}
		if w.Price != nil {
			h.Price = *w.Price
		}
		if w.Expires != nil {
			t, err := ParseTimestamp(*w.Expires)
			if err != nil {
				return bad("expires: " + err.Error())
			}
			h.Expires = &t
		}
		return Item{ID: w.ID, Attrs: h}, nil
	case category.Blip:
		var w blipWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return bad(err.Error())
		}
		pos, err := pixel(w.X, w.Y)
		if err != nil {
			return bad(err.Error())
		}
		return Item{ID: w.ID, Attrs: entity.Blip{Name: w.Name, Icon: w.Icon, Pos: pos}}, nil
	case category.Event:
		var w eventWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return bad(err.Error())
		}
		pos, err := pixel(w.X, w.Y)
		if err != nil {
			return bad(err.Error())
		}
		if err := checkPostURL(w.PostURL); err != nil {
			return bad(err.Error())
		}
		ev := entity.Event{Name: w.Name, Description: deref(w.Description), Location: deref(w.Location), PostURL: w.PostURL, Pos: pos}
		if w.StartDate != nil {
			t, err := ParseTimestamp(*w.StartDate)
			if err != nil {
				return bad("start_date: " + err.Error())
			}
			ev.Start = &t
		}
		if w.EndDate != nil {
			t, err := ParseTimestamp(*w.EndDate)
			if err != nil {
				return bad("end_date: " + err.Error())
			}
			ev.End = &t
		}
		return Item{ID: w.ID, Attrs: ev}, nil
	}
	return Item{}, &category.ConfigurationError{Name: c.String(), Op: "feed_decode"}
}

// parsePoints：区域顶点既可能是单个多边形 [[x,y],...]，也可能是多多边形 [[[x,y],...],...]
func parsePoints(raw json.RawMessage) ([]geo.Ring, error) {
	var poly [][]float64
	if err := json.Unmarshal(raw, &poly); err == nil {
		r, err := ring(poly)
		if err != nil {
			return nil, err
		}
		return []geo.Ring{r}, nil
	}
	var multi [][][]float64
	if err := json.Unmarshal(raw, &multi); err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	out := make([]geo.Ring, 0, len(multi))
	for _, p := range multi {
		r, err := ring(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func ring(pts [][]float64) (geo.Ring, error) {
	r := make(geo.Ring, 0, len(pts))
	for _, p := range pts {
		if len(p) != 2 {
			return nil, fmt.Errorf("points: vertex has %d coordinates", len(p))
		}
		px, err := pixel(p[0], p[1])
		if err != nil {
			return nil, err
		}
		r = append(r, px)
	}
	return r, nil
}

func pixel(x, y float64) (geo.Pixel, error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return geo.Pixel{}, fmt.Errorf("non-finite coordinate (%v, %v)", x, y)
	}
	return geo.Pixel{X: x, Y: y}, nil
}

func checkPostURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("post_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("post_url: not an http(s) url: %q", s)
	}
	return nil
}

func idOf(doc any) int64 {
	m, ok := doc.(map[string]any)
	if !ok {
		return 0
	}
	if f, ok := m["id"].(float64); ok {
		return int64(f)
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
