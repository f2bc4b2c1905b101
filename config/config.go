package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPath 指定配置文件路径的环境变量
const EnvPath = "CHATWEB_CONFIG"

// EnvSecret 会话签名密钥，优先于配置文件
const EnvSecret = "CHATWEB_SECRET"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int    `yaml:"port" validate:"min=1,max=65535"`
	Mode string `yaml:"mode" validate:"oneof=debug test release"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

type AuthConfig struct {
	Secret     string `yaml:"secret" validate:"required,min=16"`
	CookieName string `yaml:"cookie_name" validate:"required"`
	TTLHours   int    `yaml:"ttl_hours" validate:"min=1"`
	Secure     bool   `yaml:"secure"`
}

// TTL 会话有效期
func (a AuthConfig) TTL() time.Duration {
	return time.Duration(a.TTLHours) * time.Hour
}

type LLMConfig struct {
	Provider     string `yaml:"provider" validate:"oneof=echo openai langchain"`
	BaseURL      string `yaml:"base_url" validate:"omitempty,url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model" validate:"required_unless=Provider echo"`
	SystemPrompt string `yaml:"system_prompt"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8000, Mode: "release"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "./chatweb.db"},
		// 不提供默认密钥，必须通过配置文件或 CHATWEB_SECRET 设置
		Auth: AuthConfig{
			CookieName: "chatweb_session",
			TTLHours:   24 * 14,
		},
		LLM: LLMConfig{Provider: "echo"},
		Log: LogConfig{File: "./logs/chatweb.log", Level: "info"},
	}
}

// Load 从文件加载配置，以默认值为基础覆盖
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv 读取 CHATWEB_CONFIG 指向的文件（默认 ./config.yaml），文件不存在时使用默认配置；
// CHATWEB_SECRET 覆盖 auth.secret
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvPath)
	if path == "" {
		path = "./config.yaml"
	}

	cfg, err := load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if secret := os.Getenv(EnvSecret); secret != "" {
		cfg.Auth.Secret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置项
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
