package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	API       APIConfig                   `yaml:"api"`
	Storage   StorageConfig               `yaml:"storage"`
	Logging   LoggingConfig               `yaml:"logging"`
	Metrics   MetricsConfig               `yaml:"metrics"`
	Preview   PreviewConfig               `yaml:"preview"`
	Delivery  DeliveryConfig              `yaml:"delivery"`
	RateLimit RateLimitConfig             `yaml:"rate_limit"`
	DKIM      map[string]DKIMDomainConfig `yaml:"dkim"` // sender domain -> key
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN of the server
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, alternative to api_key
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Max request body (default: 2MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedIPs     []string      `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access API (empty = allow all)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text

	// Rotating log file; stdout when empty
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"`
}

// PreviewConfig contains template preview defaults
type PreviewConfig struct {
	MissingStyle string `yaml:"missing_style"` // literal, bracket
	SanitizeHTML bool   `yaml:"sanitize_html"`
}

// DeliveryConfig contains outbound relay settings
type DeliveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	TLSMode  string        `yaml:"tls_mode"` // none, starttls, tls
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Helo     string        `yaml:"helo"` // defaults to server.hostname
	Timeout  time.Duration `yaml:"timeout"`

	// Skip certificate verification; for local relays only
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// RateLimitConfig contains send quotas. A nil level is unlimited.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Global        *LimitValues  `yaml:"global,omitempty"`
	DefaultDomain *LimitValues  `yaml:"default_domain,omitempty"` // per sender domain
	DefaultIP     *LimitValues  `yaml:"default_ip,omitempty"`
	DefaultAPIKey *LimitValues  `yaml:"default_api_key,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LimitValues contains the hourly and daily message caps; zero means no cap
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// DKIMDomainConfig contains DKIM settings for a sender domain
type DKIMDomainConfig struct {
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 2 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/ultrazend/templates.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB == 0 {
			c.Logging.MaxSizeMB = 50
		}
		if c.Logging.MaxBackups == 0 {
			c.Logging.MaxBackups = 5
		}
		if c.Logging.MaxAgeDays == 0 {
			c.Logging.MaxAgeDays = 30
		}
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Preview.MissingStyle == "" {
		c.Preview.MissingStyle = "literal"
	}

	if c.Delivery.TLSMode == "" {
		c.Delivery.TLSMode = "starttls"
	}
	if c.Delivery.Port == 0 {
		switch c.Delivery.TLSMode {
		case "tls":
			c.Delivery.Port = 465
		case "none":
			c.Delivery.Port = 25
		default:
			c.Delivery.Port = 587
		}
	}
	if c.Delivery.Helo == "" {
		c.Delivery.Helo = c.Server.Hostname
	}
	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 30 * time.Second
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.APIKey != "" && c.API.APIKeyHash != "" {
		return fmt.Errorf("api.api_key and api.api_key_hash are mutually exclusive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	validStyles := map[string]bool{"literal": true, "bracket": true}
	if !validStyles[c.Preview.MissingStyle] {
		return fmt.Errorf("invalid preview.missing_style: %s (must be literal or bracket)", c.Preview.MissingStyle)
	}

	if err := c.validateDelivery(); err != nil {
		return err
	}

	if err := c.validateLimits(); err != nil {
		return err
	}

	return c.validateDKIM()
}

// validateDelivery validates the outbound relay configuration
func (c *Config) validateDelivery() error {
	if !c.Delivery.Enabled {
		return nil
	}

	if c.Delivery.Host == "" {
		return fmt.Errorf("delivery.host is required when delivery is enabled")
	}

	validModes := map[string]bool{"none": true, "starttls": true, "tls": true}
	if !validModes[c.Delivery.TLSMode] {
		return fmt.Errorf("invalid delivery.tls_mode: %s (must be none, starttls, or tls)", c.Delivery.TLSMode)
	}

	if c.Delivery.Port < 1 || c.Delivery.Port > 65535 {
		return fmt.Errorf("invalid delivery.port: %d", c.Delivery.Port)
	}

	if c.Delivery.Password != "" && c.Delivery.Username == "" {
		return fmt.Errorf("delivery.username is required when delivery.password is set")
	}

	return nil
}

// validateLimits rejects negative caps
func (c *Config) validateLimits() error {
	levels := map[string]*LimitValues{
		"global":          c.RateLimit.Global,
		"default_domain":  c.RateLimit.DefaultDomain,
		"default_ip":      c.RateLimit.DefaultIP,
		"default_api_key": c.RateLimit.DefaultAPIKey,
	}
	for name, lv := range levels {
		if lv == nil {
			continue
		}
		if lv.MessagesPerHour < 0 || lv.MessagesPerDay < 0 {
			return fmt.Errorf("rate_limit.%s: limits must not be negative", name)
		}
	}
	return nil
}

// validateDKIM validates per-domain DKIM configuration
func (c *Config) validateDKIM() error {
	for domain, dc := range c.DKIM {
		if domain == "" {
			return fmt.Errorf("empty domain name in dkim configuration")
		}
		if dc.Selector == "" {
			return fmt.Errorf("dkim.%s.selector is required", domain)
		}
		if dc.KeyFile == "" {
			return fmt.Errorf("dkim.%s.key_file is required", domain)
		}
	}
	return nil
}

// RelayAddr returns the host:port of the delivery relay
func (c *DeliveryConfig) RelayAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
