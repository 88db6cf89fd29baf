package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_fetch_total",
		Help: "Total upstream point fetches by category and mode",
	}, []string{"category", "mode"})
	FetchFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_fetch_fail_total",
		Help: "Total failed upstream fetches by category and error kind",
	}, []string{"category", "kind"})
	FetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapapi_fetch_duration_ms",
		Help:    "Upstream fetch duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"category"})
	ReconcileEntitiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_reconcile_entities_total",
		Help: "Entities added or updated by the reconciler",
	}, []string{"category", "op"})
	RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_rejected_items_total",
		Help: "Snapshot items dropped as malformed",
	}, []string{"category"})
	StaleDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_stale_snapshots_total",
		Help: "Snapshots discarded because a newer one was already applied",
	}, []string{"category"})
	CullTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_cull_transitions_total",
		Help: "Attach/detach transitions produced by viewport culling",
	}, []string{"category", "kind"})
	WatermarkSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapapi_watermark_seconds",
		Help: "Current watermark (unix seconds) of volatile categories",
	}, []string{"category"})
	PollTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapapi_poll_ticks_total",
		Help: "Poll scheduler ticks by outcome",
	}, []string{"outcome"})
	SearchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapapi_search_requests_total",
		Help: "Total search suggestion requests",
	})
	SearchFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapapi_search_fail_total",
		Help: "Search backend failures (served from local index)",
	})
	SearchCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapapi_search_cache_hits_total",
		Help: "Search redis cache hits",
	})
	SearchCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapapi_search_cache_misses_total",
		Help: "Search redis cache misses",
	})
	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapapi_ws_clients",
		Help: "Connected map clients on the transition stream",
	})
	JournalErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapapi_journal_errors_total",
		Help: "Sync journal write failures",
	})
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchFailTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(ReconcileEntitiesTotal)
	prometheus.MustRegister(RejectedTotal)
	prometheus.MustRegister(StaleDroppedTotal)
	prometheus.MustRegister(CullTransitionsTotal)
	prometheus.MustRegister(WatermarkSeconds)
	prometheus.MustRegister(PollTicksTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchFailTotal)
	prometheus.MustRegister(SearchCacheHitsTotal)
	prometheus.MustRegister(SearchCacheMissesTotal)
	prometheus.MustRegister(WSClients)
	prometheus.MustRegister(JournalErrorsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
