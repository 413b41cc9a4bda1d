// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YaganovValera/market-feed/internal/sink/kafka"
	"github.com/YaganovValera/market-feed/internal/sink/redis"
	"github.com/YaganovValera/market-feed/pkg/binance"
	"github.com/YaganovValera/market-feed/pkg/httpserver"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. FEED_FEED_MARKET.
const EnvPrefix = "FEED"

// Config - все настройки сервиса.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Feed           binance.Config    `mapstructure:"feed"`
	Kafka          kafka.Config      `mapstructure:"kafka"`
	Redis          redis.Config      `mapstructure:"redis"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry"`
	Logging        logger.Config     `mapstructure:"logging"`
	HTTP           httpserver.Config `mapstructure:"http"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "market-feed")
	v.SetDefault("service_version", "v0.1.0")

	// feed.rate_limit_per_second=0 → market default (spot 5, futures 10)
	v.SetDefault("feed.market", string(binance.MarketFutures))
	v.SetDefault("feed.streams", []string{})
	v.SetDefault("feed.rate_limit_per_second", 0)
	v.SetDefault("feed.max_queue_depth", 2048)
	v.SetDefault("feed.ping_interval", "150s")
	v.SetDefault("feed.pong_wait", "10s")
	v.SetDefault("feed.recv_wait", "5s")
	v.SetDefault("feed.write_timeout", "10s")
	v.SetDefault("feed.dial_timeout", "15s")
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.backoff.initial_interval", "1s")
	v.SetDefault("feed.backoff.max_interval", "30s")
	v.SetDefault("feed.backoff.jitter", "1s")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "marketdata.raw")
	v.SetDefault("kafka.acks", "all")
	v.SetDefault("kafka.timeout", "5s")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.kinds", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "10m")
	v.SetDefault("redis.key_prefix", "feed:last:")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "otel-collector:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sampler_ratio", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
}

// Load загружает и валидирует конфиг. Если path пустой - читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Feed.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func decode(input map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToBoolHook,
		),
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return dec.Decode(input)
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data any) (any, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

// Validate checks cross-section requirements. Section-level defaults are
// owned by each package.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.enabled")
	}
	if _, err := kafka.ParseKinds(c.Kafka.Kinds); err != nil {
		return fmt.Errorf("kafka.kinds: %w", err)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis.enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry.enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// Print выводит текущий конфиг в YAML (удобно в DevMode). Keys are the
// mapstructure names, so the output can be fed back to Load.
func (c *Config) Print(w io.Writer) error {
	var tree map[string]any
	if err := mapstructure.Decode(*c, &tree); err != nil {
		return fmt.Errorf("print config: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return fmt.Errorf("print config: %w", err)
	}
	return enc.Close()
}
