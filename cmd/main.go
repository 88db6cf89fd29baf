// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"map-api/internal/api"
	"map-api/internal/app"
	"map-api/internal/config"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/logger"
	"map-api/internal/migrate"
	"map-api/internal/poll"
	"map-api/internal/search"
	"map-api/internal/store"
	"map-api/internal/transport/ws"
	"map-api/internal/utils"
	"map-api/internal/version"
)

func main() {
	cfg, err := config.Load()
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)
	l.Debug("config_backend", "url", cfg.BackendURL, "poll", cfg.PollInterval.String())
	l.Debug("config_ui_dir", "dir", cfg.UIDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proj := geo.NewRasterProjector(cfg.Map.ImageWidth, cfg.Map.ImageHeight, cfg.Map.TileSize)
	vp := cfg.Map.ViewportPx
	view, err := geo.BoundsOf(proj, geo.Pixel{X: vp[0], Y: vp[1]}, geo.Pixel{X: vp[2], Y: vp[3]})
	if err != nil {
		l.Error("viewport_error", "err", err)
		os.Exit(1)
	}

	client := feed.NewClient(cfg.BackendURL, &http.Client{Timeout: cfg.HTTPTimeout})

	var journal *store.Store
	if cfg.Journal.Driver != "none" {
		db, err := utils.OpenJournal(cfg.Journal.Driver, cfg.Journal.SQLitePath)
		if err != nil {
			l.Error("db_open_error", "driver", cfg.Journal.Driver, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		l.Info("db_open_ok", "driver", cfg.Journal.Driver)
		if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(db, cfg.Journal.Driver); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		journal = store.AttachDB(db, cfg.Journal.Driver)
	} else {
		l.Info("journal_disabled")
	}

	deps := app.Deps{
		Feed:          client,
		Projector:     proj,
		Viewport:      view,
		SearchBackend: client,
		SearchOptions: search.Options{
			MinLength: cfg.Search.MinLength,
			Limit:     cfg.Search.Limit,
			CacheTTL:  time.Duration(cfg.Search.CacheTTLSec) * time.Second,
		},
	}
	if journal != nil {
		deps.Journal = journal
	}
	if cfg.RedisEnabled {
		rc := utils.OpenRedisFromEnv()
		if rc == nil {
			l.Info("redis_disabled")
		} else if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
			deps.Redis = rc
		}
	} else {
		l.Info("redis_disabled")
	}

	a := app.New(deps)
	hub := ws.NewHub(a)
	a.Subscribe(hub)
	a.Start(ctx)

	// 启动加载：四个类别并行抓取；单个类别失败不阻塞其他类别，房屋由轮询补齐
	go func() {
		if err := a.LoadAll(ctx); err != nil {
			l.Error("initial_load_error", "err", err)
		} else {
			l.Info("initial_load_ok")
		}
	}()
	sched := poll.New(cfg.PollInterval, func(ctx context.Context) error {
		_, err := a.Refresh(ctx)
		return err
	})
	sched.Start(ctx)

	qps := 0
	if cfg.RateLimit.Enabled {
		qps = cfg.RateLimit.QPS
	}
	var jr api.JournalReader
	if journal != nil {
		jr = journal
	}
	apiMux := api.BuildRoutes(a, jr, hub.Handler(), api.Options{RateLimitQPS: qps, RealIPHeader: cfg.RateLimit.RealIPHeader})

	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle("/", http.FileServer(http.Dir(cfg.UIDir)))
	// NOTE: 向前端暴露 API 基础路径与轮询周期，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + cfg.APIBase + "'\n"))
		_, _ = w.Write([]byte("window.__POLL_INTERVAL_MS__=" + strconv.FormatInt(cfg.PollInterval.Milliseconds(), 10) + "\n"))
		_, _ = w.Write([]byte("window.__COMMIT_SHA__='" + version.Commit + "'"))
	})

	s := &http.Server{Addr: cfg.Addr, Handler: logger.AccessMiddleware(l)(mux), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdown)
	}()

	if cfg.TLS.Enabled {
		if err := utils.EnsureSelfSignedCert(cfg.TLS.CertPath, cfg.TLS.KeyPath, "map-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLS.CertPath)
		err = s.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
	}
	sched.Wait()
	l.Info("shutdown_ok", "polls", sched.Fired(), "skipped", sched.Skipped(), "ws_dropped", hub.Dropped())
}
