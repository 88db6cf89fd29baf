package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"map-api/internal/app"
	"map-api/internal/category"
	"map-api/internal/config"
	"map-api/internal/feed"
	"map-api/internal/geo"
	"map-api/internal/logger"

	"github.com/klauspost/compress/zstd"
	geojson "github.com/paulmach/go.geojson"
)

// 文档注释：导出全部类别为单个 GeoJSON 文件
// 背景：一次性全量抓取后按地图坐标导出，供 QGIS 等工具离线查看；以 .zst 结尾的目标路径使用 zstd 压缩。
// 约束：某个类别抓取失败时仍导出其余类别，退出码为 2；EXPORT_CATEGORIES 可限定类别（逗号分隔）。
func main() {
	cfg, err := config.Load()
	l := logger.Setup()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	out := os.Getenv("EXPORT_PATH")
	if out == "" {
		out = filepath.Join("data", "export", "map.geojson")
	}
	cats := category.All
	if s := os.Getenv("EXPORT_CATEGORIES"); s != "" {
		cats = nil
		for _, name := range strings.Split(s, ",") {
			c, err := category.Parse(name)
			if err != nil {
				l.Error("export_category_error", "err", err)
				os.Exit(1)
			}
			cats = append(cats, c)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	proj := geo.NewRasterProjector(cfg.Map.ImageWidth, cfg.Map.ImageHeight, cfg.Map.TileSize)
	client := feed.NewClient(cfg.BackendURL, &http.Client{Timeout: cfg.HTTPTimeout})
	a := app.New(app.Deps{Feed: client, Projector: proj})
	a.Start(ctx)
	code := 0
	if err := a.LoadAll(ctx); err != nil {
		l.Error("export_load_error", "err", err)
		code = 2
	}

	fc := geojson.NewFeatureCollection()
	for _, c := range cats {
		part, err := a.GeoJSON(ctx, c)
		if err != nil {
			l.Error("export_geojson_error", "category", c.String(), "err", err)
			os.Exit(1)
		}
		for _, f := range part.Features {
			fc.AddFeature(f)
		}
		l.Info("export_category_ok", "category", c.String(), "features", len(part.Features))
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		l.Error("export_marshal_error", "err", err)
		os.Exit(1)
	}
	if err := writeExport(out, b); err != nil {
		l.Error("export_write_error", "path", out, "err", err)
		os.Exit(1)
	}
	l.Info("export_ok", "path", out, "features", len(fc.Features), "bytes", len(b))
	os.Exit(code)
}

func writeExport(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			f.Close()
			return err
		}
		w = enc
	}
	bw := bufio.NewWriterSize(w, 256*1024)
	_, err = bw.Write(b)
	if err == nil {
		err = bw.Flush()
	}
	if enc != nil {
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
