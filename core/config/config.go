// Package config 加载网关配置 (YAML + 环境变量展开 + 默认值)
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 网关根配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Routing   RoutingConfig   `yaml:"routing"`
	Providers ProvidersConfig `yaml:"providers"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	PoW       PoWConfig       `yaml:"pow"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	AdminToken      string          `yaml:"admin_token"` // 管理接口鉴权，为空则管理接口关闭
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig 每 IP 限流
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DatabaseConfig sqlite 路径
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig 凭证加密
type SecurityConfig struct {
	CredentialKey string `yaml:"credential_key"` // 为空时明文存储
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // 为空只输出到 stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// RoutingConfig 账号选择
type RoutingConfig struct {
	Strategy string `yaml:"strategy"` // round_robin | priority | least_used
}

// ProvidersConfig provider 启用与模型目录
type ProvidersConfig struct {
	EnablementURL string        `yaml:"enablement_url"`
	EnablementTTL time.Duration `yaml:"enablement_ttl"`
	Disabled      []string      `yaml:"disabled"`
	ModelsURL     string        `yaml:"models_url"`
	ModelsTTL     time.Duration `yaml:"models_ttl"`
}

// UpstreamConfig 访问后端的 HTTP client
type UpstreamConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"` // 流式响应两次读取之间的最长等待
	Proxy                 string        `yaml:"proxy"`
}

// PoWConfig 工作量证明
type PoWConfig struct {
	Budget time.Duration `yaml:"budget"`
}

// Default 内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            11434,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       RateLimitConfig{RPS: 10, Burst: 20},
		},
		Database: DatabaseConfig{Path: "gateway.db"},
		Logging:  LoggingConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		Routing:  RoutingConfig{Strategy: "round_robin"},
		Providers: ProvidersConfig{
			EnablementTTL: time.Hour,
			ModelsTTL:     5 * time.Minute,
		},
		Upstream: UpstreamConfig{
			DialTimeout:           30 * time.Second,
			ResponseHeaderTimeout: 120 * time.Second,
			StopTimeout:           5 * time.Second,
			IdleTimeout:           90 * time.Second,
		},
		PoW: PoWConfig{Budget: 10 * time.Second},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults 支持 ${VAR} 与 ${VAR:-default}
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load 读取配置文件；path 为空时只使用默认值
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes 从 YAML 内容加载，未出现的字段保持默认值
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	expanded := expandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 少量常用字段允许直接用环境变量覆盖
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GATEWAY_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv("GATEWAY_CREDENTIAL_KEY"); v != "" {
		c.Security.CredentialKey = v
	}
	if v := os.Getenv("GATEWAY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Routing.Strategy {
	case "round_robin", "priority", "least_used":
	default:
		return fmt.Errorf("routing.strategy must be one of round_robin, priority, least_used, got %q", c.Routing.Strategy)
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be non-negative")
	}
	if c.Providers.EnablementTTL <= 0 || c.Providers.ModelsTTL <= 0 {
		return fmt.Errorf("providers ttl values must be positive")
	}
	if c.Upstream.IdleTimeout <= 0 {
		return fmt.Errorf("upstream.idle_timeout must be positive")
	}
	if c.PoW.Budget <= 0 {
		return fmt.Errorf("pow.budget must be positive")
	}
	for i, p := range c.Providers.Disabled {
		c.Providers.Disabled[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return nil
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
