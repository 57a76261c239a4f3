package roster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config = types.Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_type", "sqlite")
	v.SetDefault("seed", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "roster:")
	v.SetDefault("sqlite.path", "data/roster.db")
	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("session.store_type", "sqlite")
	v.SetDefault("session.warn_before", 5*time.Minute)
	v.SetDefault("session.default_ttl", time.Hour)
	v.SetDefault("session.logout_timeout", 5*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_period", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("export.currency", string(types.USD))
	v.SetDefault("export.dir", ".")
}

// LoadConfig reads path (or ./roster.yaml when empty) and applies ROSTER_*
// environment overrides. A missing default file is not an error.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("roster")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

func NewLogger(cfg types.LogConfig, out io.Writer) *logrus.Logger {
	l := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
