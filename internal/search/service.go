package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"map-api/internal/feed"
	"map-api/internal/logger"
	"map-api/internal/metrics"

	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
)

// Backend：上游模糊搜索
type Backend interface {
	Search(ctx context.Context, query string, limit int) ([]feed.SearchHit, error)
}

// Local：本地索引来源；实现方负责在主事件序列上读取注册表
type Local interface {
	Index(ctx context.Context) (*Index, error)
}

// Options：搜索组件参数
type Options struct {
	MinLength int
	Limit     int
	CacheTTL  time.Duration
}

// DefaultOptions：最少 2 个字符，最多 10 条，缓存 60 秒
func DefaultOptions() Options {
	return Options{MinLength: 2, Limit: 10, CacheTTL: 60 * time.Second}
}

// 文档注释：搜索服务
// 背景：候选来自上游搜索接口（可选 Redis 缓存），再用本地匹配规则过滤；上游失败时改用本地索引。
// 约束：任何失败都返回空列表而不是错误；highlighted 片段只保留 <b>/<em>/<mark>。
type Service struct {
	backend Backend
	local   Local
	rc      *redis.Client
	opt     Options
	policy  *bluemonday.Policy
	log     *slog.Logger
}

// NewService：backend 与 rc 均可为空
func NewService(backend Backend, local Local, rc *redis.Client, opt Options) *Service {
	if opt.MinLength <= 0 {
		opt.MinLength = 2
	}
	if opt.Limit <= 0 {
		opt.Limit = 10
	}
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "em", "mark", "strong")
	return &Service{backend: backend, local: local, rc: rc, opt: opt, policy: p, log: logger.Component("search")}
}

// Normalize：去除首尾空白并转小写
func Normalize(q string) string { return strings.ToLower(strings.TrimSpace(q)) }

// 文档注释：搜索建议
// 返回：过短的查询返回空列表；结果不超过 Limit 条。
func (s *Service) Suggest(ctx context.Context, query string) []Result {
	q := Normalize(query)
	if len([]rune(q)) < s.opt.MinLength {
		return []Result{}
	}
	metrics.SearchRequestsTotal.Inc()
	if s.backend != nil {
		hits, err := s.candidates(ctx, q)
		if err == nil {
			return s.filter(q, hits)
		}
		metrics.SearchFailTotal.Inc()
		s.log.Warn("search_backend_error", "query", q, "err", err)
	}
	if s.local == nil {
		return []Result{}
	}
	ix, err := s.local.Index(ctx)
	if err != nil {
		s.log.Error("search_local_error", "query", q, "err", err)
		return []Result{}
	}
	out := ix.Lookup(q, s.opt.Limit)
	if out == nil {
		out = []Result{}
	}
	return out
}

func (s *Service) filter(q string, hits []feed.SearchHit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if !Match(q, h.Name) {
			continue
		}
		out = append(out, Result{ID: h.ID, Name: h.Name, Group: h.Group, Highlighted: s.policy.Sanitize(h.Highlighted)})
		if len(out) >= s.opt.Limit {
			break
		}
	}
	return out
}

func (s *Service) candidates(ctx context.Context, q string) ([]feed.SearchHit, error) {
	key := "search:" + q
	if s.rc != nil {
		if v, _ := s.rc.Get(ctx, key).Result(); v != "" {
			var hits []feed.SearchHit
			if err := json.Unmarshal([]byte(v), &hits); err == nil {
				metrics.SearchCacheHitsTotal.Inc()
				return hits, nil
			}
		}
		metrics.SearchCacheMissesTotal.Inc()
	}
	hits, err := s.backend.Search(ctx, q, s.opt.Limit)
	if err != nil {
		return nil, err
	}
	if s.rc != nil {
		b, _ := json.Marshal(hits)
		ttl := s.opt.CacheTTL
		if ttl <= 0 {
			ttl = 60 * time.Second
		}
		_ = s.rc.Set(ctx, key, string(b), ttl).Err()
	}
	return hits, nil
}
