// =============================================================================
// Storyboard 生成器主入口
// =============================================================================
// 分镜图片生成命令行工具，基于可配置的 AI 图片生成接口
//
// 使用方法:
//
//	storyboard-gen generate --config storyboard.yaml \
//	    --prompt "雨夜巷口" --image frame01.png --out shot01.png
//	storyboard-gen batch --config storyboard.yaml --shots shots.yaml
//	storyboard-gen validate --config storyboard.yaml
//	storyboard-gen version
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/storyboard/config"
	"github.com/BaSui01/storyboard/imagegen"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "batch":
		runBatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// generate 命令：单张分镜
// =============================================================================

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "storyboard.yaml", "Path to config file")
	providerName := fs.String("provider", "", "Provider profile name (default from config)")
	prompt := fs.String("prompt", "", "Generation prompt")
	negative := fs.String("negative", "", "Negative prompt")
	aspect := fs.String("aspect", "", "Aspect ratio, e.g. 16:9")
	imagePath := fs.String("image", "", "Storyboard reference image (file path, URL or data URI)")
	rolePath := fs.String("role", "", "Role reference image")
	scenePath := fs.String("scene", "", "Scene reference image")
	outPath := fs.String("out", "", "Output file (default: <output.dir>/frame.png)")
	fs.Parse(args)

	cfg, logger := mustSetup(*configPath)
	defer logger.Sync()

	providerCfg, err := cfg.Provider(*providerName)
	if err != nil {
		logger.Fatal("provider profile not found", zap.Error(err))
	}

	req := &imagegen.GenerationRequest{
		Prompt:         *prompt,
		NegativePrompt: *negative,
		AspectRatio:    *aspect,
	}
	if req.StoryboardImage, err = imageRefFromArg(*imagePath); err != nil {
		logger.Fatal("cannot read storyboard image", zap.Error(err))
	}
	if req.RoleImage, err = imageRefFromArg(*rolePath); err != nil {
		logger.Fatal("cannot read role image", zap.Error(err))
	}
	if req.SceneImage, err = imageRefFromArg(*scenePath); err != nil {
		logger.Fatal("cannot read scene image", zap.Error(err))
	}

	client := newClient(cfg, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := client.Generate(ctx, req, providerCfg, progressBar(logger))
	if err != nil {
		logger.Fatal("generation failed", zap.Error(err))
	}

	out := *outPath
	if out == "" {
		out = defaultOutputPath(cfg, "frame")
	}
	if err := writeResult(out, result); err != nil {
		logger.Fatal("cannot write output", zap.Error(err))
	}
	logger.Info("frame generated", zap.String("file", out), zap.String("model", result.Model))
}

// =============================================================================
// validate 命令：探测接口配置
// =============================================================================

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "storyboard.yaml", "Path to config file")
	providerName := fs.String("provider", "", "Provider profile name (default: all profiles)")
	fs.Parse(args)

	cfg, logger := mustSetup(*configPath)
	defer logger.Sync()

	client := newClient(cfg, logger, nil)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names := []string{*providerName}
	if *providerName == "" {
		names = names[:0]
		for name := range cfg.Providers {
			names = append(names, name)
		}
	}

	failed := false
	for _, name := range names {
		providerCfg, err := cfg.Provider(name)
		if err != nil {
			logger.Error("provider profile not found", zap.String("profile", name), zap.Error(err))
			failed = true
			continue
		}
		if err := client.ValidateConfig(ctx, providerCfg); err != nil {
			logger.Error("profile check failed", zap.String("profile", name), zap.Error(err))
			failed = true
			continue
		}
		logger.Info("profile looks reachable", zap.String("profile", name))
	}
	if failed {
		os.Exit(1)
	}
}

// =============================================================================
// 公共初始化
// =============================================================================

func mustSetup(configPath string) (*config.Config, *zap.Logger) {
	cfg, err := config.NewLoader().
		WithConfigPath(configPath).
		WithDotEnv(".env").
		WithValidator((*config.Config).Validate).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, initLogger(cfg.Log)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    !cfg.EnableCaller,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// progressBar 把进度百分比写进日志；UI 场景下由前端消费
func progressBar(logger *zap.Logger) imagegen.ProgressFunc {
	return func(percent int) {
		logger.Debug("generation progress", zap.Int("percent", percent))
	}
}

// =============================================================================
// 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("storyboard-gen %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`storyboard-gen - AI storyboard frame generator

Usage:
  storyboard-gen <command> [options]

Commands:
  generate  Generate a single storyboard frame
  batch     Generate every shot listed in a shots file
  validate  Probe the configured provider endpoints
  version   Show version information
  help      Show this help message

Options for 'generate':
  --config <path>     Configuration file (default storyboard.yaml)
  --provider <name>   Provider profile to use
  --prompt <text>     Generation prompt
  --negative <text>   Negative prompt
  --aspect <W:H>      Aspect ratio, e.g. 16:9
  --image <ref>       Storyboard reference image (file, URL or data URI)
  --role <ref>        Role reference image
  --scene <ref>       Scene reference image
  --out <path>        Output file

Options for 'batch':
  --config <path>        Configuration file
  --provider <name>      Provider profile to use
  --shots <path>         Shots file (YAML)
  --concurrency <n>      Parallel generations (default 2)
  --watch                Re-render whenever the shots file changes

Options for 'validate':
  --config <path>     Configuration file
  --provider <name>   Probe a single profile instead of all`)
}
