package types

import "time"

type Config struct {
	StoreType string `yaml:"store_type" mapstructure:"store_type"`
	// Seed fills an empty store with the default dataset on first open.
	Seed    bool          `yaml:"seed" mapstructure:"seed"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	SQLite  SQLiteConfig  `yaml:"sqlite" mapstructure:"sqlite"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

type SQLiteConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	LogMode bool   `yaml:"log_mode" mapstructure:"log_mode"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type SessionConfig struct {
	StoreType     string        `yaml:"store_type" mapstructure:"store_type"`
	WarnBefore    time.Duration `yaml:"warn_before" mapstructure:"warn_before"`
	DefaultTTL    time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	LogoutTimeout time.Duration `yaml:"logout_timeout" mapstructure:"logout_timeout"`
}

type ServerConfig struct {
	Addr      string        `yaml:"addr" mapstructure:"addr"`
	RateLimit int           `yaml:"rate_limit" mapstructure:"rate_limit"`
	RatePer   time.Duration `yaml:"rate_period" mapstructure:"rate_period"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type ExportConfig struct {
	Currency Currency `yaml:"currency" mapstructure:"currency"`
	Dir      string   `yaml:"dir" mapstructure:"dir"`
}
