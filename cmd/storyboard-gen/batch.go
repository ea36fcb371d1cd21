// batch 子命令：按 shots 文件批量生成分镜，支持并发与热重载。
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/storyboard/config"
	"github.com/BaSui01/storyboard/imagegen"
	"github.com/BaSui01/storyboard/internal/metrics"
	"github.com/BaSui01/storyboard/types"
)

// shotsFile 是批量生成的输入清单
type shotsFile struct {
	Shots []shot `yaml:"shots"`
}

// shot 描述一个待生成的分镜
type shot struct {
	Name           string `yaml:"name"`
	Prompt         string `yaml:"prompt"`
	NegativePrompt string `yaml:"negative_prompt"`
	AspectRatio    string `yaml:"aspect_ratio"`
	// 参考图：文件路径、URL 或 data URI
	StoryboardImage string `yaml:"storyboard_image"`
	RoleImage       string `yaml:"role_image"`
	SceneImage      string `yaml:"scene_image"`
}

// batchFlags 是 batch 子命令解析后的参数
type batchFlags struct {
	configPath  string
	provider    string
	shotsPath   string
	concurrency int
	watch       bool
}

func parseBatchFlags(args []string) batchFlags {
	var bf batchFlags
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	fs.StringVar(&bf.configPath, "config", "storyboard.yaml", "Path to config file")
	fs.StringVar(&bf.provider, "provider", "", "Provider profile name (default from config)")
	fs.StringVar(&bf.shotsPath, "shots", "shots.yaml", "Shots file (YAML)")
	fs.IntVar(&bf.concurrency, "concurrency", 2, "Parallel generations")
	fs.BoolVar(&bf.watch, "watch", false, "Re-render whenever the shots file or config changes")
	fs.Parse(args)
	if bf.concurrency < 1 {
		bf.concurrency = 1
	}
	return bf
}

func runBatch(args []string) {
	bf := parseBatchFlags(args)

	cfg, logger := mustSetup(bf.configPath)
	defer logger.Sync()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
		go serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	client := newClient(cfg, logger, collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !bf.watch {
		if err := renderShots(ctx, client, cfg, bf, logger); err != nil {
			logger.Fatal("batch failed", zap.Error(err))
		}
		return
	}

	watchAndRender(ctx, client, cfg, bf, logger)
}

// renderShots 读取 shots 文件并并发生成所有分镜
func renderShots(ctx context.Context, client *imagegen.Client, cfg *config.Config, bf batchFlags, logger *zap.Logger) error {
	providerCfg, err := cfg.Provider(bf.provider)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(bf.shotsPath)
	if err != nil {
		return fmt.Errorf("cannot read shots file: %w", err)
	}
	var shots shotsFile
	if err := yaml.Unmarshal(data, &shots); err != nil {
		return fmt.Errorf("cannot parse shots file: %w", err)
	}
	if len(shots.Shots) == 0 {
		return fmt.Errorf("shots file lists no shots")
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.concurrency)

	for i, s := range shots.Shots {
		i, s := i, s
		g.Go(func() error {
			name := s.Name
			if name == "" {
				name = fmt.Sprintf("shot-%02d", i+1)
			}
			log := logger.With(zap.String("shot", name))

			req, err := shotRequest(s)
			if err != nil {
				return fmt.Errorf("shot %s: %w", name, err)
			}

			result, err := client.Generate(gctx, req, providerCfg, nil)
			if err != nil {
				return fmt.Errorf("shot %s: %w", name, err)
			}

			out := defaultOutputPath(cfg, name)
			if err := writeResult(out, result); err != nil {
				return fmt.Errorf("shot %s: %w", name, err)
			}
			log.Info("shot rendered",
				zap.String("file", out),
				zap.Int64("finished", done.Add(1)),
				zap.Int("total", len(shots.Shots)),
			)
			return nil
		})
	}
	return g.Wait()
}

// watchAndRender 先渲染一遍，然后监听 shots 文件与配置文件的改动，
// 任何一边变化都触发重新渲染。适合调整提示词时的迭代流程。
func watchAndRender(ctx context.Context, client *imagegen.Client, cfg *config.Config, bf batchFlags, logger *zap.Logger) {
	watcher := config.NewWatcher(bf.configPath, cfg, logger)
	trigger := make(chan struct{}, 1)
	watcher.OnReload(func(*config.Config) {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	go watcher.Watch(ctx)

	var lastMod time.Time
	if info, err := os.Stat(bf.shotsPath); err == nil {
		lastMod = info.ModTime()
	}

	render := func() {
		if err := renderShots(ctx, client, watcher.Current(), bf, logger); err != nil && ctx.Err() == nil {
			logger.Error("batch failed, waiting for next change", zap.Error(err))
		}
	}
	render()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch mode stopped")
			return
		case <-trigger:
			logger.Info("config changed, re-rendering")
			render()
		case <-ticker.C:
			info, err := os.Stat(bf.shotsPath)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			logger.Info("shots file changed, re-rendering")
			render()
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint stopped", zap.Error(err))
	}
}

// =============================================================================
// 共享辅助
// =============================================================================

// newClient 把配置映射为生成客户端选项
func newClient(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *imagegen.Client {
	opts := []imagegen.Option{
		imagegen.WithLogger(logger),
		imagegen.WithHTTPClient(&http.Client{Timeout: cfg.Generation.RequestTimeout}),
		imagegen.WithRetryPolicy(cfg.Generation.RetryPolicy()),
		imagegen.WithPollInterval(cfg.Generation.PollInterval),
		imagegen.WithPollBudget(cfg.Generation.PollMaxAttempts),
	}
	if cfg.Generation.RateLimitRPS > 0 {
		opts = append(opts, imagegen.WithRateLimit(cfg.Generation.RateLimitRPS, cfg.Generation.RateLimitBurst))
	}
	if collector != nil {
		opts = append(opts, imagegen.WithMetrics(collector))
	}
	return imagegen.NewClient(opts...)
}

func shotRequest(s shot) (*imagegen.GenerationRequest, error) {
	req := &imagegen.GenerationRequest{
		Prompt:         s.Prompt,
		NegativePrompt: s.NegativePrompt,
		AspectRatio:    s.AspectRatio,
	}
	var err error
	if req.StoryboardImage, err = imageRefFromArg(s.StoryboardImage); err != nil {
		return nil, err
	}
	if req.RoleImage, err = imageRefFromArg(s.RoleImage); err != nil {
		return nil, err
	}
	if req.SceneImage, err = imageRefFromArg(s.SceneImage); err != nil {
		return nil, err
	}
	return req, nil
}

// imageRefFromArg 把命令行/清单里的图片引用转成 ImageRef：
// data URI 和 URL 原样传递，其他内容按本地文件路径读取。
func imageRefFromArg(arg string) (types.ImageRef, error) {
	switch {
	case arg == "":
		return types.ImageRef{}, nil
	case types.IsDataURI(arg):
		mime, data, err := types.ParseDataURI(arg)
		if err != nil {
			return types.ImageRef{}, err
		}
		return types.DataURIRef(mime, base64.StdEncoding.EncodeToString(data)), nil
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		return types.RemoteURLRef(arg), nil
	default:
		data, err := os.ReadFile(arg)
		if err != nil {
			return types.ImageRef{}, fmt.Errorf("cannot read image file %s: %w", arg, err)
		}
		return types.BlobRef(data), nil
	}
}

// writeResult 把生成结果落盘，扩展名跟随返回的 MIME 类型
func writeResult(path string, result *imagegen.GenerationResult) error {
	mime, data, err := types.ParseDataURI(result.Image.String())
	if err != nil {
		return err
	}
	if filepath.Ext(path) == "" {
		path += extForMIME(mime)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultOutputPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Output.Dir, name+".png")
}

func extForMIME(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
