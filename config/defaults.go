// =============================================================================
// 📦 Storyboard 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/storyboard/imagegen"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Providers:  map[string]imagegen.ProviderConfig{},
		Generation: DefaultGenerationConfig(),
		Log:        DefaultLogConfig(),
		Metrics:    DefaultMetricsConfig(),
		Output:     OutputConfig{Dir: "out"},
	}
}

// DefaultGenerationConfig 返回默认生成策略
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxAttempts:     3,
		RetryBaseDelay:  time.Second,
		PollInterval:    2 * time.Second,
		PollMaxAttempts: 30,
		RateLimitRPS:    0,
		RateLimitBurst:  1,
		RequestTimeout:  120 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "console",
		EnableCaller: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "storyboard",
	}
}
