// 包 middleware：HTTP 入口中间件
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"map-api/internal/logger"

	"golang.org/x/time/rate"
)

// idleTTL：客户端空闲超过该时长后回收其限流器
const idleTTL = time.Minute

// 文档注释：按客户端的限流器集合
// 背景：搜索接口每次按键都会触发请求；每个客户端 IP 一个令牌桶（速率 qps，突发 qps），一个页面疯狂输入不影响其他地图用户。
// 约束：不做排队，超限直接 429；空闲超过一分钟的客户端在下一次清扫时回收。
type ClientLimiter struct {
	qps     int
	mu      sync.Mutex
	clients map[string]*clientEntry
	sweep   time.Time
}

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewClientLimiter(qps int) *ClientLimiter {
	return &ClientLimiter{qps: qps, clients: map[string]*clientEntry{}}
}

// Allow：key 在 now 时刻是否放行
func (c *ClientLimiter) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.sweep) > idleTTL {
		for k, e := range c.clients {
			if now.Sub(e.seen) > idleTTL {
				delete(c.clients, k)
			}
		}
		c.sweep = now
	}
	e, ok := c.clients[key]
	if !ok {
		e = &clientEntry{lim: rate.NewLimiter(rate.Limit(c.qps), c.qps)}
		c.clients[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Len：当前跟踪的客户端数
func (c *ClientLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// 文档注释：按客户端限流中间件
// 背景：realIPHeader 非空时取该头的首个合法 IP（部署在反向代理之后）。
// 约束：qps<=0 时不限流。
func RateLimit(qps int, realIPHeader string) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	cl := NewClientLimiter(qps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, realIPHeader)
			if !cl.Allow(ip, time.Now()) {
				logger.L().Debug("rate_limited", "ip", ip, "path", r.URL.Path)
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP：来源 IP；header 非空且包含合法 IP 时以其为准
func ClientIP(r *http.Request, header string) string {
	if header != "" {
		for _, p := range strings.Split(r.Header.Get(header), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
