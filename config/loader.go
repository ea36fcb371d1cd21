// =============================================================================
// 📦 Storyboard 配置加载器
// =============================================================================
// 统一配置加载，支持 .env 文件 + YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("storyboard.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix 是所有环境变量覆盖项的前缀
const envPrefix = "STORYBOARD"

// envOverrides 是允许通过环境变量覆盖的扁平键集合。敏感项（API Key）
// 走环境变量而不是落在 YAML 里。
type envOverrides struct {
	// STORYBOARD_API_KEY 覆盖所选档案的 API Key
	APIKey string `envconfig:"API_KEY"`
	// STORYBOARD_ENDPOINT 覆盖所选档案的接口地址
	Endpoint string `envconfig:"ENDPOINT"`
	// STORYBOARD_MODEL 覆盖所选档案的模型名
	Model string `envconfig:"MODEL"`
	// STORYBOARD_LOG_LEVEL 覆盖日志级别
	LogLevel string `envconfig:"LOG_LEVEL"`
	// STORYBOARD_METRICS_ADDR 覆盖指标监听地址
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	dotEnvPath string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{validators: make([]func(*Config) error, 0)}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithDotEnv 设置 .env 文件路径，文件不存在时忽略
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	if l.dotEnvPath != "" {
		if err := godotenv.Load(l.dotEnvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := loadFromFile(cfg, l.configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnvOverrides 从环境变量覆盖配置。档案级覆盖作用于所有档案：
// 环境变量里只有一份密钥时，它对选中的任何档案都生效。
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return err
	}

	for name, p := range cfg.Providers {
		if env.APIKey != "" {
			p.APIKey = env.APIKey
		}
		if env.Endpoint != "" {
			p.Endpoint = env.Endpoint
		}
		if env.Model != "" {
			p.Model = env.Model
		}
		cfg.Providers[name] = p
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.MetricsAddr != "" {
		cfg.Metrics.Addr = env.MetricsAddr
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().
		WithConfigPath(path).
		WithValidator((*Config).Validate).
		Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
