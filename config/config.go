// Package config loads the box configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 设备配置
type Config struct {
	BoxID      string           `yaml:"box_id"`
	Log        LogConfig        `yaml:"log"`
	Transport  TransportConfig  `yaml:"transport"`
	RPC        RPCConfig        `yaml:"rpc"`
	Clock      ClockConfig      `yaml:"clock"`
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Registry   RegistryConfig   `yaml:"registry"`
}

type LogConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error
}

// TransportConfig 无线链路配置
type TransportConfig struct {
	Framing        string `yaml:"framing"`          // sentinel (phone compatible) or length
	MTU            int    `yaml:"mtu"`              // initial MTU before negotiation
	Compression    string `yaml:"compression"`      // gzip or none
	MaxMessageSize int    `yaml:"max_message_size"` // compressed bytes

	MaxDecompressedSize int `yaml:"max_decompressed_size"`
}

type RPCConfig struct {
	CallTimeout    time.Duration `yaml:"call_timeout"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"` // 0 disables
	RateLimit      float64       `yaml:"rate_limit"`      // inbound calls per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
}

// ClockConfig 时钟校正配置
type ClockConfig struct {
	Mode           string        `yaml:"mode"`        // bounded or windowed
	MaxSamples     int           `yaml:"max_samples"` // bounded: freeze after this many samples
	WindowSize     int           `yaml:"window_size"` // windowed: samples per median
	SeriesCapacity int           `yaml:"series_capacity"`
	Freshness      time.Duration `yaml:"freshness"`
}

type EndpointConfig struct {
	MailRoot   string        `yaml:"mail_root"`
	CloseAfter time.Duration `yaml:"close_after"`
}

type PeripheralConfig struct {
	Listen string `yaml:"listen"`
}

// RegistryConfig etcd 注册中心配置，endpoints 为空时不注册
type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints"`
	TTL       int64    `yaml:"ttl"` // seconds
	Advertise string   `yaml:"advertise"`
}

// Load reads path and fills unset fields with defaults. A missing file yields
// the default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.BoxID == "" {
		if host, err := os.Hostname(); err == nil {
			c.BoxID = host
		} else {
			c.BoxID = "anemobox"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Transport.Framing == "" {
		c.Transport.Framing = "sentinel"
	}
	if c.Transport.MTU == 0 {
		c.Transport.MTU = 20
	}
	if c.Transport.Compression == "" {
		c.Transport.Compression = "gzip"
	}
	if c.Transport.MaxMessageSize == 0 {
		c.Transport.MaxMessageSize = 1 << 20
	}
	if c.Transport.MaxDecompressedSize == 0 {
		c.Transport.MaxDecompressedSize = 16 << 20
	}

	if c.RPC.CallTimeout == 0 {
		c.RPC.CallTimeout = 30 * time.Second
	}
	if c.RPC.RateLimit > 0 && c.RPC.RateBurst == 0 {
		c.RPC.RateBurst = 1
	}

	if c.Clock.Mode == "" {
		c.Clock.Mode = "windowed"
	}
	if c.Clock.MaxSamples == 0 {
		c.Clock.MaxSamples = 10
	}
	if c.Clock.WindowSize == 0 {
		c.Clock.WindowSize = 30
	}
	if c.Clock.SeriesCapacity == 0 {
		c.Clock.SeriesCapacity = 256
	}
	if c.Clock.Freshness == 0 {
		c.Clock.Freshness = time.Second
	}

	if c.Endpoint.MailRoot == "" {
		c.Endpoint.MailRoot = "/var/lib/anemobox/mail"
	}
	if c.Endpoint.CloseAfter == 0 {
		c.Endpoint.CloseAfter = 30 * time.Second
	}

	if c.Peripheral.Listen == "" {
		c.Peripheral.Listen = ":8890"
	}
	if c.Registry.TTL == 0 {
		c.Registry.TTL = 10
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Transport.Framing {
	case "sentinel", "length":
	default:
		return fmt.Errorf("config: transport.framing must be sentinel or length, got %q", c.Transport.Framing)
	}
	switch c.Transport.Compression {
	case "gzip", "none":
	default:
		return fmt.Errorf("config: transport.compression must be gzip or none, got %q", c.Transport.Compression)
	}
	switch c.Clock.Mode {
	case "bounded", "windowed":
	default:
		return fmt.Errorf("config: clock.mode must be bounded or windowed, got %q", c.Clock.Mode)
	}
	if c.Transport.MTU < 20 {
		return fmt.Errorf("config: transport.mtu must be at least 20, got %d", c.Transport.MTU)
	}
	for _, v := range []struct {
		name  string
		value int64
	}{
		{"transport.max_message_size", int64(c.Transport.MaxMessageSize)},
		{"transport.max_decompressed_size", int64(c.Transport.MaxDecompressedSize)},
		{"clock.max_samples", int64(c.Clock.MaxSamples)},
		{"clock.window_size", int64(c.Clock.WindowSize)},
		{"clock.series_capacity", int64(c.Clock.SeriesCapacity)},
		{"clock.freshness", int64(c.Clock.Freshness)},
		{"endpoint.close_after", int64(c.Endpoint.CloseAfter)},
		{"registry.ttl", c.Registry.TTL},
	} {
		if v.value < 1 {
			return fmt.Errorf("config: %s must be positive, got %d", v.name, v.value)
		}
	}
	if c.RPC.CallTimeout < 0 || c.RPC.HandlerTimeout < 0 || c.RPC.RateLimit < 0 || c.RPC.RateBurst < 0 {
		return fmt.Errorf("config: rpc timeouts and rate limits must not be negative")
	}
	if c.Clock.WindowSize > c.Clock.SeriesCapacity {
		return fmt.Errorf("config: clock.window_size %d exceeds series_capacity %d", c.Clock.WindowSize, c.Clock.SeriesCapacity)
	}
	return nil
}
