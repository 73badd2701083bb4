package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	AppID           string        `mapstructure:"app_id"`
	TokenURL        string        `mapstructure:"token_url"`
	TokenTimeout    time.Duration `mapstructure:"token_timeout"`
	TokenRoleFormat string        `mapstructure:"token_role_format"`

	SignalURL      string        `mapstructure:"signal_url"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout"`
	DefaultVariant string        `mapstructure:"default_variant"`
	// UnpublishPolicy is "tracked" (drop on the tracked kind) or "per_kind".
	UnpublishPolicy string   `mapstructure:"unpublish_policy"`
	ICEServers      []string `mapstructure:"ice_servers"`
	RecordDir       string   `mapstructure:"record_dir"`

	StartRateLimit    int           `mapstructure:"start_rate_limit"`
	StartRateInterval time.Duration `mapstructure:"start_rate_interval"`

	// Sessions with no view that stay idle this long are dropped.
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")

	v.SetDefault("app_id", "")
	v.SetDefault("token_url", "http://localhost:5000/api/token")
	v.SetDefault("token_timeout", "10s")
	v.SetDefault("token_role_format", "string")

	v.SetDefault("signal_url", "ws://localhost:7000/ws")
	v.SetDefault("join_timeout", "30s")
	v.SetDefault("default_variant", "video")
	v.SetDefault("unpublish_policy", "tracked")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("record_dir", "")

	v.SetDefault("start_rate_limit", 5)
	v.SetDefault("start_rate_interval", "1m")
	v.SetDefault("session_idle_ttl", "10m")
	v.SetDefault("sweep_interval", "1m")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("default_variant", cfg.DefaultVariant).
		Msg("config ready")
	return &cfg, nil
}
