package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type NodeConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Token    string        `yaml:"token"`
	TokenEnv string        `yaml:"tokenEnv"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	SecretEnv  string        `yaml:"secretEnv"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	WriteScope string        `yaml:"writeScope"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type Config struct {
	ListenAddress string            `yaml:"listen"`
	ReadTimeout   time.Duration     `yaml:"readTimeout"`
	WriteTimeout  time.Duration     `yaml:"writeTimeout"`
	IdleTimeout   time.Duration     `yaml:"idleTimeout"`
	LogEnv        string            `yaml:"logEnv"`
	Node          NodeConfig        `yaml:"node"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimits    []RateLimitConfig `yaml:"rateLimits"`
	CORS          CORSConfig        `yaml:"cors"`
}

// Load parses the gateway YAML config and resolves env-indirected secrets.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if strings.TrimSpace(c.Node.Endpoint) == "" {
		return errors.New("node endpoint required")
	}
	if _, err := url.Parse(c.Node.Endpoint); err != nil {
		return fmt.Errorf("node endpoint: %w", err)
	}
	if c.Node.Token == "" && c.Node.TokenEnv != "" {
		c.Node.Token = strings.TrimSpace(os.Getenv(c.Node.TokenEnv))
	}
	if c.Node.Timeout <= 0 {
		c.Node.Timeout = 10 * time.Second
	}
	if c.Auth.HMACSecret == "" && c.Auth.SecretEnv != "" {
		c.Auth.HMACSecret = strings.TrimSpace(os.Getenv(c.Auth.SecretEnv))
	}
	if c.Auth.Enabled && c.Auth.HMACSecret == "" {
		return errors.New("auth enabled without hmac secret")
	}
	if c.Auth.WriteScope == "" {
		c.Auth.WriteScope = "gridfund.write"
	}
	return nil
}
