package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pm_terminal/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		MarketURL      string `yaml:"market_url"`
		UserURL        string `yaml:"user_url"`
		LiveDataURL    string `yaml:"live_data_url"`
		PingIntervalMS int    `yaml:"ping_interval_ms"`
		ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
		BufferSize     int    `yaml:"buffer_size"`
	} `yaml:"feed"`

	Dispatch struct {
		CommandQueueSize int `yaml:"command_queue_size"`
		RequestQueueSize int `yaml:"request_queue_size"`
		BalanceCacheSec  int `yaml:"balance_cache_sec"`
	} `yaml:"dispatch"`

	Gamma struct {
		BaseURL           string  `yaml:"base_url"`
		TimeoutMS         int     `yaml:"timeout_ms"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"gamma"`

	Credentials struct {
		APIKey        string `yaml:"api_key"`
		Secret        string `yaml:"secret"`
		Passphrase    string `yaml:"passphrase"`
		FunderAddress string `yaml:"funder_address"`
	} `yaml:"credentials"`

	Paper struct {
		InitialBalance decimal.Decimal `yaml:"initial_balance"`
	} `yaml:"paper"`

	Storage struct {
		Path string `yaml:"path"` // empty: user config dir
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the endpoint
	} `yaml:"metrics"`
}

// DefaultConfig returns the settings used for any field the file leaves out.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "pm-terminal"
	cfg.App.Version = "dev"
	cfg.Feed.MarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	cfg.Feed.UserURL = "wss://ws-subscriptions-clob.polymarket.com/ws/user"
	cfg.Feed.LiveDataURL = "wss://ws-live-data.polymarket.com"
	cfg.Feed.PingIntervalMS = 10_000
	cfg.Feed.ReadTimeoutMS = 60_000
	cfg.Feed.BufferSize = 1024
	cfg.Dispatch.CommandQueueSize = 256
	cfg.Dispatch.RequestQueueSize = 256
	cfg.Dispatch.BalanceCacheSec = 30
	cfg.Gamma.BaseURL = "https://gamma-api.polymarket.com"
	cfg.Gamma.TimeoutMS = 10_000
	cfg.Gamma.RequestsPerSecond = 5
	cfg.Gamma.Burst = 1
	cfg.Paper.InitialBalance = decimal.NewFromInt(1000)
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// .env 파일이 있으면 먼저 로드하고, 설정 파일이 없으면 기본값을 사용합니다.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigError{Field: ".env", Err: err}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	for field, u := range map[string]string{
		"feed.market_url":    c.Feed.MarketURL,
		"feed.user_url":      c.Feed.UserURL,
		"feed.live_data_url": c.Feed.LiveDataURL,
	} {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return &domain.ConfigError{Field: field, Err: fmt.Errorf("invalid websocket URL %q", u)}
		}
	}

	if c.Feed.PingIntervalMS <= 0 || c.Feed.ReadTimeoutMS <= 0 {
		return &domain.ConfigError{Field: "feed", Err: errors.New("ping interval and read timeout must be positive")}
	}
	if c.Feed.ReadTimeoutMS <= c.Feed.PingIntervalMS {
		return &domain.ConfigError{Field: "feed.read_timeout_ms", Err: errors.New("must exceed the ping interval")}
	}

	if c.Dispatch.CommandQueueSize <= 0 || c.Dispatch.RequestQueueSize <= 0 {
		return &domain.ConfigError{Field: "dispatch", Err: errors.New("queue sizes must be positive")}
	}

	if !strings.HasPrefix(c.Gamma.BaseURL, "http://") && !strings.HasPrefix(c.Gamma.BaseURL, "https://") {
		return &domain.ConfigError{Field: "gamma.base_url", Err: fmt.Errorf("invalid URL %q", c.Gamma.BaseURL)}
	}
	if c.Gamma.RequestsPerSecond <= 0 || c.Gamma.Burst <= 0 {
		return &domain.ConfigError{Field: "gamma", Err: errors.New("rate limit must be positive")}
	}

	if c.Paper.InitialBalance.IsNegative() {
		return &domain.ConfigError{Field: "paper.initial_balance", Err: errors.New("must not be negative")}
	}

	return nil
}

// FeedCredentials returns the credentials for the authenticated feeds.
func (c *Config) FeedCredentials() *domain.Credentials {
	return &domain.Credentials{
		APIKey:     c.Credentials.APIKey,
		Secret:     c.Credentials.Secret,
		Passphrase: c.Credentials.Passphrase,
	}
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Feed.PingIntervalMS) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Feed.ReadTimeoutMS) * time.Millisecond
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("PM_API_KEY"); key != "" {
		cfg.Credentials.APIKey = key
	}
	if secret := os.Getenv("PM_API_SECRET"); secret != "" {
		cfg.Credentials.Secret = secret
	}
	if pass := os.Getenv("PM_API_PASSPHRASE"); pass != "" {
		cfg.Credentials.Passphrase = pass
	}
	if addr := os.Getenv("PM_FUNDER_ADDRESS"); addr != "" {
		cfg.Credentials.FunderAddress = addr
	}
	if level := os.Getenv("PM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
