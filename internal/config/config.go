// 包 config：集中读取服务配置；.env 与可选 YAML 文件提供基础值，环境变量覆盖
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MapConfig：底图与视口参数
type MapConfig struct {
	ImageWidth  int        `yaml:"image_width"`
	ImageHeight int        `yaml:"image_height"`
	TileSize    int        `yaml:"tile_size"`
	MaxZoom     int        `yaml:"max_zoom"`
	ViewportPx  [4]float64 `yaml:"viewport_px"`
}

// SearchConfig：搜索组件参数
type SearchConfig struct {
	MinLength   int `yaml:"min_length"`
	Limit       int `yaml:"limit"`
	CacheTTLSec int `yaml:"cache_ttl_s"`
}

// JournalConfig：同步日志存储；Driver 取值 none/sqlite/postgres
type JournalConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

// RateLimitConfig：搜索接口限流
type RateLimitConfig struct {
	Enabled      bool   `yaml:"enabled"`
	QPS          int    `yaml:"qps"`
	RealIPHeader string `yaml:"real_ip_header"`
}

// TLSConfig：HTTPS 监听；证书不存在时生成自签名证书
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// 文档注释：服务配置
// 背景：YAML 适合放静态的底图参数，部署差异（地址、后端、密钥）走环境变量。
// 约束：Redis 与 Postgres 连接参数仍由 utils 按 REDIS_*/PG_* 读取，这里只决定是否启用。
type Config struct {
	Addr         string          `yaml:"addr"`
	APIBase      string          `yaml:"api_base"`
	BackendURL   string          `yaml:"backend_url"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	HTTPTimeout  time.Duration   `yaml:"http_timeout"`
	UIDir        string          `yaml:"ui_dir"`
	RedisEnabled bool            `yaml:"redis_enabled"`
	Map          MapConfig       `yaml:"map"`
	Search       SearchConfig    `yaml:"search"`
	Journal      JournalConfig   `yaml:"journal"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	TLS          TLSConfig       `yaml:"tls"`
}

// Default：与原有前端一致的默认值（6000×6000 底图、60 秒轮询、搜索 2 字符起 10 条）
func Default() Config {
	return Config{
		Addr:         ":8080",
		APIBase:      "/api",
		BackendURL:   "http://127.0.0.1:8000",
		PollInterval: 60 * time.Second,
		HTTPTimeout:  10 * time.Second,
		UIDir:        filepath.Join("ui", "dist"),
		Map: MapConfig{
			ImageWidth:  6000,
			ImageHeight: 6000,
			TileSize:    256,
			MaxZoom:     5,
			ViewportPx:  [4]float64{0, 0, 6000, 6000},
		},
		Search:    SearchConfig{MinLength: 2, Limit: 10, CacheTTLSec: 60},
		Journal:   JournalConfig{Driver: "sqlite", SQLitePath: filepath.Join("data", "map-api.db")},
		RateLimit: RateLimitConfig{Enabled: true, QPS: 20},
		TLS: TLSConfig{
			CertPath: filepath.Join("data", "certs", "server.crt"),
			KeyPath:  filepath.Join("data", "certs", "server.key"),
		},
	}
}

// Load：读取 .env 与 data/env/.env，再按 CONFIG_FILE 与进程环境组装配置
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	return LoadFrom(os.Getenv)
}

// 文档注释：由指定的环境读取函数组装配置
// 背景：测试中注入 map 代替进程环境。
// 异常：YAML 文件不可读或格式错误、数值型变量无法解析时返回错误；未设置的变量保留默认或 YAML 中的值。
func LoadFrom(getenv func(string) string) (Config, error) {
	c := Default()
	if p := getenv("CONFIG_FILE"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return c, fmt.Errorf("config: read %s: %w", p, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config: parse %s: %w", p, err)
		}
	}
	e := envReader{get: getenv}
	e.str("ADDR", &c.Addr)
	e.str("API_BASE", &c.APIBase)
	e.str("BACKEND_URL", &c.BackendURL)
	e.str("UI_DIST", &c.UIDir)
	e.dur("POLL_INTERVAL", &c.PollInterval)
	e.dur("HTTP_TIMEOUT", &c.HTTPTimeout)
	e.boolean("REDIS_ENABLE", &c.RedisEnabled)
	e.integer("IMAGE_WIDTH", &c.Map.ImageWidth)
	e.integer("IMAGE_HEIGHT", &c.Map.ImageHeight)
	e.integer("TILE_SIZE", &c.Map.TileSize)
	e.integer("MAP_MAX_ZOOM", &c.Map.MaxZoom)
	e.rect("VIEWPORT_PX", &c.Map.ViewportPx)
	e.integer("SEARCH_MIN_LENGTH", &c.Search.MinLength)
	e.integer("SEARCH_LIMIT", &c.Search.Limit)
	e.integer("SEARCH_CACHE_TTL_S", &c.Search.CacheTTLSec)
	e.str("JOURNAL_DRIVER", &c.Journal.Driver)
	e.str("SQLITE_PATH", &c.Journal.SQLitePath)
	e.boolean("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	e.integer("RATE_LIMIT_QPS", &c.RateLimit.QPS)
	e.str("REAL_IP_HEADER", &c.RateLimit.RealIPHeader)
	e.boolean("TLS_ENABLE", &c.TLS.Enabled)
	e.str("TLS_CERT_PATH", &c.TLS.CertPath)
	e.str("TLS_KEY_PATH", &c.TLS.KeyPath)
	if e.err != nil {
		return c, e.err
	}
	c.APIBase = "/" + strings.Trim(c.APIBase, "/")
	c.Journal.Driver = strings.ToLower(c.Journal.Driver)
	return c, c.Validate()
}

// Validate：检查取值范围
func (c Config) Validate() error {
	if c.Map.ImageWidth <= 0 || c.Map.ImageHeight <= 0 || c.Map.TileSize <= 0 {
		return fmt.Errorf("config: map dimensions must be positive (%dx%d, tile %d)", c.Map.ImageWidth, c.Map.ImageHeight, c.Map.TileSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive")
	}
	switch c.Journal.Driver {
	case "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown JOURNAL_DRIVER %q", c.Journal.Driver)
	}
	return nil
}

// envReader：逐项读取环境变量，记录第一个解析错误
type envReader struct {
	get func(string) string
	err error
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v := e.get(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v := e.get(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

// dur：接受 Go 时长（90s、2m）或纯秒数
func (e *envReader) dur(key string, dst *time.Duration) {
	v := e.get(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

// rect：x1,y1,x2,y2
func (e *envReader) rect(key string, dst *[4]float64) {
	v := e.get(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		e.fail(key, v, fmt.Errorf("want x1,y1,x2,y2"))
		return
	}
	var out [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		out[i] = f
	}
	*dst = out
}
