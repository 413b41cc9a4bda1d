// pkg/binance/config.go
package binance

import (
	"fmt"
	"time"

	"github.com/YaganovValera/market-feed/pkg/backoff"
)

// Market selects the Binance combined-stream endpoint.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

const (
	SpotURL    = "wss://stream.binance.com:9443/stream"
	FuturesURL = "wss://fstream.binance.com/stream"
)

// Config holds WebSocket configuration for the Binance feed client.
type Config struct {
	Market             Market                 `mapstructure:"market"`
	URL                string                 `mapstructure:"url"` // overrides the market base URL (tests, proxies)
	Streams            []string               `mapstructure:"streams"`
	RateLimitPerSecond int                    `mapstructure:"rate_limit_per_second"`
	MaxQueueDepth      int                    `mapstructure:"max_queue_depth"`
	PingInterval       time.Duration          `mapstructure:"ping_interval"`
	PongWait           time.Duration          `mapstructure:"pong_wait"` // read deadline = PingInterval + PongWait
	RecvWait           time.Duration          `mapstructure:"recv_wait"`
	WriteTimeout       time.Duration          `mapstructure:"write_timeout"`
	DialTimeout        time.Duration          `mapstructure:"dial_timeout"`
	Backoff            backoff.ScheduleConfig `mapstructure:"backoff"`
}

// ApplyDefaults applies fallback defaults if values are unset.
func (c *Config) ApplyDefaults() {
	if c.Market == "" {
		c.Market = MarketFutures
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = c.Market.defaultRate()
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 2048
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 150 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 10 * time.Second
	}
	if c.RecvWait <= 0 {
		c.RecvWait = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	c.Backoff.ApplyDefaults()
}

// Validate checks config for required fields.
func (c *Config) Validate() error {
	switch {
	case c.Market != MarketSpot && c.Market != MarketFutures:
		return fmt.Errorf("%w: %q", ErrInvalidMarket, c.Market)
	case c.RateLimitPerSecond <= 0:
		return fmt.Errorf("binance: rate_limit_per_second must be > 0")
	case c.MaxQueueDepth <= 0:
		return fmt.Errorf("binance: max_queue_depth must be > 0")
	case c.PingInterval <= 0:
		return fmt.Errorf("binance: ping_interval must be > 0")
	default:
		return nil
	}
}

// BaseURL returns the endpoint without the streams query.
func (c *Config) BaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Market == MarketSpot {
		return SpotURL
	}
	return FuturesURL
}

func (m Market) defaultRate() int {
	if m == MarketSpot {
		return 5
	}
	return 10
}
