package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultServerAddress = ":8501"
	DefaultBcryptCost    = 10
	DefaultTokenDelay    = 20 * time.Millisecond
	DefaultSessionTTL    = 60 * time.Minute
	DefaultAssetsDir     = "assets"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	AssetsDir     string `json:"assets_dir"`
	BcryptCost    int    `json:"bcrypt_cost"`
	// TokenDelayMs is the pause before every placeholder chat token.
	TokenDelayMs      *int   `json:"token_delay_ms"`
	SessionStore      string `json:"session_store"`
	SessionTTLMinutes int    `json:"session_ttl_minutes"`
	LogLevel          string `json:"log_level"`
	LogFormat         string `json:"log_format"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	baseDir := filepath.Dir(absPath)
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok {
		if sqliteCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite3 dsn must be configured")
		}
		if !strings.HasPrefix(sqliteCfg.DSN, ":memory:") && !strings.HasPrefix(sqliteCfg.DSN, "file:") && !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}

	cfg.applyDefaults()
	if !filepath.IsAbs(cfg.BasicConfig.AssetsDir) {
		cfg.BasicConfig.AssetsDir = filepath.Join(baseDir, cfg.BasicConfig.AssetsDir)
	}

	switch cfg.BasicConfig.SessionStore {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unsupported session_store: %s", cfg.BasicConfig.SessionStore)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.AssetsDir == "" {
		b.AssetsDir = DefaultAssetsDir
	}
	if b.BcryptCost <= 0 {
		b.BcryptCost = DefaultBcryptCost
	}
	if b.SessionStore == "" {
		b.SessionStore = "memory"
	}
	b.SessionStore = strings.ToLower(b.SessionStore)
	if b.SessionTTLMinutes <= 0 {
		b.SessionTTLMinutes = int(DefaultSessionTTL / time.Minute)
	}
}

// TokenDelay returns the configured per-token chat delay. An explicit zero disables it.
func (b BasicConfig) TokenDelay() time.Duration {
	if b.TokenDelayMs == nil || *b.TokenDelayMs < 0 {
		return DefaultTokenDelay
	}
	return time.Duration(*b.TokenDelayMs) * time.Millisecond
}

func (b BasicConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}
