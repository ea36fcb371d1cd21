// =============================================================================
// 📦 Storyboard 生成器配置
// =============================================================================
// 统一配置结构：多套 Provider 档案 + 生成策略 + 日志 + 指标
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/storyboard/imagegen"
)

// Config 是生成器的完整配置结构
type Config struct {
	// Providers 命名的接口档案，按名字在命令行上选用
	Providers map[string]imagegen.ProviderConfig `yaml:"providers"`

	// DefaultProvider 未指定档案时使用的档案名
	DefaultProvider string `yaml:"default_provider"`

	// Generation 生成策略配置
	Generation GenerationConfig `yaml:"generation"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics"`

	// Output 生成图片的落盘目录
	Output OutputConfig `yaml:"output"`
}

// GenerationConfig 生成策略配置
type GenerationConfig struct {
	// 重试总次数（含首次）
	MaxAttempts int `yaml:"max_attempts"`
	// 线性退避基数
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// 异步任务轮询间隔
	PollInterval time.Duration `yaml:"poll_interval"`
	// 异步任务最大轮询次数
	PollMaxAttempts int `yaml:"poll_max_attempts"`
	// 出站限流（每秒请求数，0 表示不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// 单次请求超时
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用 /metrics 端点
	Enabled bool `yaml:"enabled"`
	// 监听地址
	Addr string `yaml:"addr"`
	// 指标命名空间
	Namespace string `yaml:"namespace"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// 目录
	Dir string `yaml:"dir"`
}

// Provider returns the named profile, or the default profile when name is
// empty.
func (c *Config) Provider(name string) (imagegen.ProviderConfig, error) {
	if name == "" {
		name = c.DefaultProvider
	}
	if name == "" {
		return imagegen.ProviderConfig{}, fmt.Errorf("no provider profile selected and no default_provider set")
	}
	p, ok := c.Providers[name]
	if !ok {
		return imagegen.ProviderConfig{}, fmt.Errorf("unknown provider profile %q", name)
	}
	return p, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider profile is required")
	}
	for name, p := range c.Providers {
		if strings.TrimSpace(p.Endpoint) == "" {
			errs = append(errs, fmt.Sprintf("provider %q: endpoint is required", name))
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("default_provider %q is not defined", c.DefaultProvider))
		}
	}
	if c.Generation.MaxAttempts <= 0 {
		errs = append(errs, "generation.max_attempts must be positive")
	}
	if c.Generation.PollMaxAttempts <= 0 {
		errs = append(errs, "generation.poll_max_attempts must be positive")
	}
	if c.Generation.RateLimitRPS < 0 {
		errs = append(errs, "generation.rate_limit_rps must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RetryPolicy 将生成策略转换为客户端的重试策略
func (g GenerationConfig) RetryPolicy() imagegen.RetryPolicy {
	return imagegen.RetryPolicy{
		MaxAttempts: g.MaxAttempts,
		BaseDelay:   g.RetryBaseDelay,
	}
}
