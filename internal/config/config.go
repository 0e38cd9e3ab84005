package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Vision  VisionConfig  `yaml:"vision"`
	Browser BrowserConfig `yaml:"browser"`
	Limits  LimitsConfig  `yaml:"limits"`
	Rush    RushConfig    `yaml:"rush"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// VisionConfig points at the OCR service used for recognition.
type VisionConfig struct {
	BaseURL   string         `yaml:"baseURL"`
	TimeoutMs int            `yaml:"timeoutMs"`
	Retry     VisionRetryCfg `yaml:"retry"`
}

type VisionRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c VisionConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c VisionRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c VisionRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// BrowserConfig describes how to reach the game client page.
// If ControlURL is empty a local browser is launched.
type BrowserConfig struct {
	ControlURL  string `yaml:"controlURL"`
	Headless    bool   `yaml:"headless"`
	WindowTitle string `yaml:"windowTitle"`
	StartURL    string `yaml:"startURL"`
	Stealth     bool   `yaml:"stealth"`
}

type LimitsConfig struct {
	// ActionsPerSecond caps pointer/keyboard actions sent to the client.
	ActionsPerSecond float64 `yaml:"actionsPerSecond"`
	ActionBurst      int     `yaml:"actionBurst"`
}

type RushConfig struct {
	JoinTimeoutMs            int    `yaml:"joinTimeoutMs"`
	SuccessMarker            string `yaml:"successMarker"`
	DefaultActionIntervalMs  int    `yaml:"defaultActionIntervalMs"`
	DefaultConfirmIntervalMs int    `yaml:"defaultConfirmIntervalMs"`
}

func (c RushConfig) JoinTimeout() time.Duration {
	if c.JoinTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.JoinTimeoutMs) * time.Millisecond
}

func (c RushConfig) DefaultActionInterval() time.Duration {
	if c.DefaultActionIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.DefaultActionIntervalMs) * time.Millisecond
}

func (c RushConfig) DefaultConfirmInterval() time.Duration {
	if c.DefaultConfirmIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.DefaultConfirmIntervalMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, as if loaded from an
// empty file.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/rush_engine.db"
	}
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = "http://127.0.0.1:8080/mock"
	}
	if c.Vision.Retry.Count < 0 {
		c.Vision.Retry.Count = 0
	}
	if c.Browser.WindowTitle == "" {
		c.Browser.WindowTitle = "三角洲"
	}
	if c.Limits.ActionsPerSecond <= 0 {
		c.Limits.ActionsPerSecond = 20
	}
	if c.Limits.ActionBurst <= 0 {
		c.Limits.ActionBurst = 5
	}
	if strings.TrimSpace(c.Rush.SuccessMarker) == "" {
		c.Rush.SuccessMarker = "购买成功"
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Vision.BaseURL == "" {
		return errors.New("vision.baseURL is required")
	}
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlitePath is required")
	}
	return nil
}
