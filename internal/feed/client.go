// 包 feed：上游点位与搜索接口的只读客户端；负责信封解码、逐条校验与错误分类
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"map-api/internal/category"
	"map-api/internal/entity"
	"map-api/internal/logger"
	"map-api/internal/metrics"
)

// Item：校验通过的单条记录
type Item struct {
	ID    int64
	Attrs entity.Attributes
}

// 文档注释：一次抓取的结果
// 背景：Full 表示全量快照（启动加载），否则为带水位线的增量快照；Seq 由调用方在发起前分配，用于丢弃过期响应。
// 约束：Rejected 中每个元素都是 *MalformedResponse；Watermark 为 nil 表示响应未携带水位线。
type Snapshot struct {
	Category  category.Category
	Full      bool
	Items     []Item
	Rejected  []error
	Watermark *time.Time
	Seq       uint64
}

// SearchHit：上游搜索接口的单条结果
type SearchHit struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Group       string  `json:"group"`
	Similarity  float64 `json:"similarity,omitempty"`
	Highlighted string  `json:"highlighted,omitempty"`
}

type envelope struct {
	LastUpdate *string           `json:"last_update"`
	Data       []json.RawMessage `json:"data"`
}

// 文档注释：上游客户端
// 背景：所有请求共享一个带超时的 http.Client；调用方通过 ctx 控制取消。
type Client struct {
	base string
	hc   *http.Client
	log  *slog.Logger
}

// NewClient：base 形如 http://host:port（不含 /api/v1）；hc 为空时使用 10s 超时的默认客户端
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc, log: logger.Component("feed")}
}

// 文档注释：抓取类别点位
// 参数：since 为 nil 时请求全量；否则以 unix 秒作为 last_update 查询参数（仅房屋支持增量）。
// 返回：信封级失败返回 *NetworkError；单条失败记入 Snapshot.Rejected。
// 异常：未知类别返回 *category.ConfigurationError。
func (c *Client) Fetch(ctx context.Context, cat category.Category, since *int64) (*Snapshot, error) {
	if err := category.Check("feed_fetch", cat); err != nil {
		return nil, err
	}
	mode := "full"
	q := url.Values{}
	if since != nil {
		if !cat.Volatile() {
			return nil, &category.ConfigurationError{Name: cat.String(), Op: "feed_fetch: incremental"}
		}
		mode = "incremental"
		q.Set("last_update", strconv.FormatInt(*since, 10))
	}
	u := c.base + "/api/v1/points/" + cat.Path()
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	metrics.FetchTotal.WithLabelValues(cat.String(), mode).Inc()
	t0 := time.Now()
	var env envelope
	if err := c.getJSON(ctx, cat, u, &env); err != nil {
		return nil, err
	}
	metrics.FetchDurationMs.WithLabelValues(cat.String()).Observe(float64(time.Since(t0).Milliseconds()))

	snap := &Snapshot{Category: cat, Full: since == nil}
	if env.LastUpdate != nil {
		t, err := ParseTimestamp(*env.LastUpdate)
		if err != nil {
			snap.Rejected = append(snap.Rejected, &MalformedResponse{Category: cat, Index: -1, Reason: "last_update: " + err.Error()})
		} else {
			snap.Watermark = &t
		}
	}
	for i, raw := range env.Data {
		it, err := decodeItem(cat, i, raw)
		if err != nil {
			var ce *category.ConfigurationError
			if errors.As(err, &ce) {
				return nil, err
			}
			snap.Rejected = append(snap.Rejected, err)
			continue
		}
		snap.Items = append(snap.Items, it)
	}
	if n := len(snap.Rejected); n > 0 {
		metrics.RejectedTotal.WithLabelValues(cat.String()).Add(float64(n))
		for _, err := range snap.Rejected {
			c.log.Warn("feed_item_rejected", "category", cat.String(), "err", err)
		}
	}
	c.log.Debug("feed_fetch_done", "category", cat.String(), "mode", mode, "items", len(snap.Items), "rejected", len(snap.Rejected), "duration_ms", time.Since(t0).Milliseconds())
	return snap, nil
}

// Search：调用上游模糊搜索；结果未经过滤与清洗
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var hits []SearchHit
	if err := c.getJSON(ctx, 0, c.base+"/api/v1/search/?"+q.Encode(), &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (c *Client) getJSON(ctx context.Context, cat category.Category, u string, out any) error {
	fail := func(kind string, status int, err error) error {
		label := "search"
		if cat.Valid() {
			label = cat.String()
		}
		metrics.FetchFailTotal.WithLabelValues(label, kind).Inc()
		c.log.Error("feed_fetch_error", "url", u, "kind", kind, "status", status, "err", err)
		return &NetworkError{Category: cat, Kind: kind, Status: status, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fail("transport", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fail("transport", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail("status", resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail("decode", resp.StatusCode, err)
	}
	return nil
}
