// Package config 提供 storyboard 生成器的配置加载、校验与热重载。
//
// 配置来源按优先级从低到高依次为：内置默认值、YAML 配置文件、环境变量
// （STORYBOARD_ 前缀）。敏感信息（API Key）建议放在 .env 或环境变量中。
package config
