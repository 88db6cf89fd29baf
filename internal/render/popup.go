package render

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"strings"
	"time"

	"map-api/internal/entity"
	"map-api/internal/logger"

	"github.com/microcosm-cc/bluemonday"
)

// 文档注释：弹窗 HTML 模板
// 背景：弹窗内容由上游字符串拼成（房主名、活动描述等），模板负责转义；输出再经白名单策略清洗，只保留弹窗需要的标签。
// 约束：文案保持游戏社区使用的波兰语；价格使用逗号小数点，日期格式 YYYY-MM-DD HH:mm。
var popupTemplates = template.Must(template.New("popup").Parse(`
{{define "house"}}<dl><dt>{{.ID}}. {{.Title}}</dt><dd>{{.Location}}</dd>{{if .Owner}}<dt><i class="fa fa-user fa-fw"></i> Właściciel:</dt><dd>{{.Owner}}</dd><dt><i class="fa fa-money fa-fw"></i> Cena:</dt><dd>{{.Price}}€ za dobę</dd><dt><i class="fa fa-calendar fa-fw"></i> Wynajęty do:</dt><dd>{{.Expires}}</dd>{{else}}<dd>Do wynajęcia!</dd><dt><i class="fa fa-money fa-fw"></i> Cena:</dt><dd>{{.Price}}€ za dobę</dd>{{end}}</dl>{{end}}
{{define "blip"}}<dd>{{.Name}}</dd>{{end}}
{{define "event"}}<dl><dt>{{.Name}}</dt><dd>{{.Location}}</dd><dt><i class="fa fa-info fa-fw"></i> Opis wydarzenia:</dt><dd>{{.Description}}</dd>{{if .Start}}<dt><i class="fa fa-calendar-check-o fa-fw"></i> Czas trwania:</dt><dd>Od {{.Start}} do {{if .End}}{{.End}}{{else}}odwołania{{end}}</dd>{{end}}<dd><a href="{{.PostURL}}">Sprawdź wydarzenie na forum</a></dd></dl>{{end}}
{{define "zone"}}<dl><dt>{{.Name}}</dt><dd>{{.Description}}</dd>{{if .Total}}<dt><i class="fa fa-home fa-fw"></i> Ilość domów:</dt><dd>{{.Available}}/{{.Total}} dostępne</dd><dt><i class="fa fa-money fa-fw"></i> Średnia cena:</dt><dd>{{.Average}}€ za dobę</dd></dl>{{else}}<dd>Brak domów na wynajem!</dd></dl>{{end}}{{end}}
`))

var popupPolicy = newPopupPolicy()

func newPopupPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("dl", "dt", "dd")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^fa( [a-z0-9-]+)*$`)).OnElements("i")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// FormatPrice：价格以逗号作小数点
func FormatPrice(p float64) string {
	return strings.Replace(strconv.FormatFloat(p, 'f', -1, 64), ".", ",", 1)
}

// FormatDate：弹窗日期格式
func FormatDate(t time.Time) string { return t.Format("2006-01-02 15:04") }

// PopupFor：实体默认弹窗；区域默认弹窗不含房屋统计，聚焦时由 ZonePopup 生成
func PopupFor(id int64, a entity.Attributes) string {
	switch v := a.(type) {
	case entity.House:
		data := map[string]any{
			"ID":       id,
			"Title":    v.Title,
			"Location": v.Location,
			"Price":    FormatPrice(v.Price),
			"Owner":    "",
			"Expires":  "",
		}
		if v.Owner != nil {
			data["Owner"] = *v.Owner
		}
		if v.Expires != nil {
			data["Expires"] = FormatDate(*v.Expires)
		}
		return execPopup("house", data)
	case entity.Blip:
		return execPopup("blip", map[string]any{"Name": v.Name})
	case entity.Event:
		data := map[string]any{
			"Name":        v.Name,
			"Location":    v.Location,
			"Description": v.Description,
			"PostURL":     v.PostURL,
			"Start":       "",
			"End":         "",
		}
		if v.Start != nil {
			data["Start"] = FormatDate(*v.Start)
		}
		if v.End != nil {
			data["End"] = FormatDate(*v.End)
		}
		return execPopup("event", data)
	case entity.Zone:
		return ZonePopup(v, nil)
	}
	return ""
}

// ZoneStats：区域内房屋统计
type ZoneStats struct {
	Available int     `json:"available"`
	Total     int     `json:"total"`
	Average   float64 `json:"average_price"`
}

// StatsOf：统计空闲数量与平均价格（保留两位小数）
func StatsOf(houses []entity.House) ZoneStats {
	var st ZoneStats
	var sum float64
	for _, h := range houses {
		if h.Available() {
			st.Available++
		}
		sum += h.Price
	}
	st.Total = len(houses)
	if st.Total > 0 {
		avg, _ := strconv.ParseFloat(fmt.Sprintf("%.2f", sum/float64(st.Total)), 64)
		st.Average = avg
	}
	return st
}

// ZonePopup：带实时房屋统计的区域弹窗
func ZonePopup(z entity.Zone, houses []entity.House) string {
	st := StatsOf(houses)
	return execPopup("zone", map[string]any{
		"Name":        z.Name,
		"Description": z.Description,
		"Available":   st.Available,
		"Total":       st.Total,
		"Average":     strings.Replace(fmt.Sprintf("%.2f", st.Average), ".", ",", 1),
	})
}

func execPopup(name string, data any) string {
	var buf bytes.Buffer
	if err := popupTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		logger.L().Error("render_popup_error", "template", name, "err", err)
		return ""
	}
	return popupPolicy.Sanitize(buf.String())
}
