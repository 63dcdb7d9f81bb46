package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type config struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	GitHubUpstreamURL string        `mapstructure:"github_upstream_url" validate:"required,url"`
	GitHubRepo        string        `mapstructure:"github_repo" validate:"required,contains=/"`
	GitHubToken       string        `mapstructure:"github_token"`
	ChatUpstreamURL   string        `mapstructure:"chat_upstream_url" validate:"required,url"`
	ChatAPIKey        string        `mapstructure:"chat_api_key"`
	UpstreamTimeout   time.Duration `mapstructure:"upstream_timeout" validate:"gte=0"`

	// Valores <= 0 viram o default do limiter (não é erro).
	ChatRateMax      int           `mapstructure:"chat_rate_max"`
	ChatRateWindow   time.Duration `mapstructure:"chat_rate_window"`
	PublicRateMax    int           `mapstructure:"public_rate_max"`
	PublicRateWindow time.Duration `mapstructure:"public_rate_window"`
	RateCacheSize    int           `mapstructure:"rate_cache_size"`
	RateKeyHeader    string        `mapstructure:"rate_key_header"`

	ConcurrencyMax     int           `mapstructure:"concurrency_max" validate:"gte=0"`
	ConcurrencyTimeout time.Duration `mapstructure:"concurrency_timeout" validate:"gte=0"`

	RateStatsEnabled       bool          `mapstructure:"rate_stats_enabled"`
	RateStatsRedisAddr     string        `mapstructure:"rate_stats_redis_addr" validate:"required_if=RateStatsEnabled true"`
	RateStatsRedisPassword string        `mapstructure:"rate_stats_redis_password"`
	RateStatsRedisDB       int           `mapstructure:"rate_stats_redis_db" validate:"gte=0"`
	RateStatsPrefix        string        `mapstructure:"rate_stats_prefix"`
	RateStatsTTL           time.Duration `mapstructure:"rate_stats_ttl" validate:"gte=0"`
	RateStatsBucket        string        `mapstructure:"rate_stats_bucket" validate:"oneof=minute none"`
	RateStatsTrackKeys     bool          `mapstructure:"rate_stats_track_keys"`

	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	DebugEndpoints bool   `mapstructure:"debug_endpoints"`
	LogLevel       string `mapstructure:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat      string `mapstructure:"log_format" validate:"oneof=text json"`
}

// Chaves planas: cada uma vira a variável de ambiente em maiúsculas (ex: CHAT_RATE_MAX).
var configDefaults = map[string]any{
	"listen_addr":               ":8080",
	"github_upstream_url":       "https://api.github.com",
	"github_repo":               "innerhue/innerhue",
	"github_token":              "",
	"chat_upstream_url":         "https://api.openai.com/v1/chat/completions",
	"chat_api_key":              "",
	"upstream_timeout":          30 * time.Second,
	"chat_rate_max":             30,
	"chat_rate_window":          time.Minute,
	"public_rate_max":           100,
	"public_rate_window":        15 * time.Minute,
	"rate_cache_size":           500,
	"rate_key_header":           "",
	"concurrency_max":           100,
	"concurrency_timeout":       0,
	"rate_stats_enabled":        false,
	"rate_stats_redis_addr":     "",
	"rate_stats_redis_password": "",
	"rate_stats_redis_db":       0,
	"rate_stats_prefix":         "innerhue:ratelimit:stats",
	"rate_stats_ttl":            24 * time.Hour,
	"rate_stats_bucket":         "minute",
	"rate_stats_track_keys":     false,
	"metrics_enabled":           true,
	"debug_endpoints":           false,
	"log_level":                 "info",
	"log_format":                "text",
}

// newViper prepara defaults + env. O .env (se existir) é carregado antes,
// sem sobrescrever variáveis já definidas.
func newViper(configFile string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, def := range configDefaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (config, error) {
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.RateStatsBucket = strings.ToLower(strings.TrimSpace(cfg.RateStatsBucket))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", envName(fe.StructField()), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// envName devolve a variável de ambiente que alimenta o campo, para mensagens acionáveis.
func envName(field string) string {
	for k := range configDefaults {
		if strings.EqualFold(strings.ReplaceAll(k, "_", ""), field) {
			return strings.ToUpper(k)
		}
	}
	return field
}
