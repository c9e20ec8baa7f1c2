package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPort 监听端口不合法
var ErrInvalidPort = errors.New("invalid listen port")

// Config VitalConnect 服务配置
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	// Socket.IO 服务端配置
	Server struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		MaxFrameBytes int64  `yaml:"max_frame_bytes"`
		PingInterval  int    `yaml:"ping_interval_ms"` // 握手包中声明的 pingInterval
		PingTimeout   int    `yaml:"ping_timeout_ms"`  // 握手包中声明的 pingTimeout
	} `yaml:"server"`

	// 输出配置
	Outputs struct {
		Console struct {
			Enabled   bool `yaml:"enabled"`
			Verbose   bool `yaml:"verbose"`
			Colorized bool `yaml:"colorized"`
		} `yaml:"console"`

		TCPBridge struct {
			Enabled        bool          `yaml:"enabled"`
			Host           string        `yaml:"host"`
			Port           int           `yaml:"port"`
			ConnectTimeout time.Duration `yaml:"connect_timeout"`
			InitialBackoff time.Duration `yaml:"initial_backoff"`
			MaxBackoff     time.Duration `yaml:"max_backoff"`
			PollInterval   time.Duration `yaml:"poll_interval"`
			QueueSize      int           `yaml:"queue_size"`
		} `yaml:"tcp_bridge"`

		RedisStream struct {
			Enabled bool   `yaml:"enabled"`
			Stream  string `yaml:"stream"`
			MaxLen  int64  `yaml:"max_len"`
		} `yaml:"redis_stream"`

		MQTT struct {
			Enabled bool   `yaml:"enabled"`
			Topic   string `yaml:"topic"` // 支持 {vrcode} 占位符
		} `yaml:"mqtt"`

		Postgres struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"postgres"`

		Webhook struct {
			Enabled bool          `yaml:"enabled"`
			URL     string        `yaml:"url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"webhook"`
	} `yaml:"outputs"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置（默认值 -> VITALCONNECT_CONFIG 指定的 YAML 文件 -> 环境变量）
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv("VITALCONNECT_CONFIG"))
}

// LoadWithFile 加载配置，path 为空时跳过 YAML 文件
func LoadWithFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 3000
	cfg.Server.MaxFrameBytes = 1 << 20 // 1MB
	cfg.Server.PingInterval = 25000
	cfg.Server.PingTimeout = 5000

	cfg.Outputs.Console.Enabled = true
	cfg.Outputs.Console.Colorized = true

	cfg.Outputs.TCPBridge.Host = "127.0.0.1"
	cfg.Outputs.TCPBridge.Port = 7000
	cfg.Outputs.TCPBridge.ConnectTimeout = 3 * time.Second
	cfg.Outputs.TCPBridge.InitialBackoff = time.Second
	cfg.Outputs.TCPBridge.MaxBackoff = 30 * time.Second
	cfg.Outputs.TCPBridge.PollInterval = time.Second
	cfg.Outputs.TCPBridge.QueueSize = 1024

	cfg.Outputs.RedisStream.Stream = "vital:batch:stream"
	cfg.Outputs.MQTT.Topic = "vital/{vrcode}/batch"
	cfg.Outputs.Webhook.Timeout = 5 * time.Second

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-vitalconnect"

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.MaxFrameBytes = int64(getEnvInt("SERVER_MAX_FRAME_BYTES", int(cfg.Server.MaxFrameBytes)))
	cfg.Server.PingInterval = getEnvInt("SERVER_PING_INTERVAL_MS", cfg.Server.PingInterval)
	cfg.Server.PingTimeout = getEnvInt("SERVER_PING_TIMEOUT_MS", cfg.Server.PingTimeout)

	console := &cfg.Outputs.Console
	console.Enabled = getEnvBool("CONSOLE_ENABLED", console.Enabled)
	console.Verbose = getEnvBool("CONSOLE_VERBOSE", console.Verbose)
	console.Colorized = getEnvBool("CONSOLE_COLORIZED", console.Colorized)

	bridge := &cfg.Outputs.TCPBridge
	bridge.Enabled = getEnvBool("TCP_BRIDGE_ENABLED", bridge.Enabled)
	bridge.Host = getEnv("TCP_BRIDGE_HOST", bridge.Host)
	bridge.Port = getEnvInt("TCP_BRIDGE_PORT", bridge.Port)
	bridge.ConnectTimeout = getEnvMillis("TCP_BRIDGE_CONNECT_TIMEOUT_MS", bridge.ConnectTimeout)
	bridge.InitialBackoff = getEnvMillis("TCP_BRIDGE_INITIAL_BACKOFF_MS", bridge.InitialBackoff)
	bridge.MaxBackoff = getEnvMillis("TCP_BRIDGE_MAX_BACKOFF_MS", bridge.MaxBackoff)
	bridge.PollInterval = getEnvMillis("TCP_BRIDGE_POLL_INTERVAL_MS", bridge.PollInterval)
	bridge.QueueSize = getEnvInt("TCP_BRIDGE_QUEUE_SIZE", bridge.QueueSize)

	stream := &cfg.Outputs.RedisStream
	stream.Enabled = getEnvBool("REDIS_STREAM_ENABLED", stream.Enabled)
	stream.Stream = getEnv("REDIS_STREAM_NAME", stream.Stream)
	stream.MaxLen = int64(getEnvInt("REDIS_STREAM_MAXLEN", int(stream.MaxLen)))
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Outputs.MQTT.Enabled = getEnvBool("MQTT_OUTPUT_ENABLED", cfg.Outputs.MQTT.Enabled)
	cfg.Outputs.MQTT.Topic = getEnv("MQTT_OUTPUT_TOPIC", cfg.Outputs.MQTT.Topic)
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Outputs.Postgres.Enabled = getEnvBool("POSTGRES_OUTPUT_ENABLED", cfg.Outputs.Postgres.Enabled)
	cfg.Database.LoadFromEnv("DB")

	webhook := &cfg.Outputs.Webhook
	webhook.Enabled = getEnvBool("WEBHOOK_ENABLED", webhook.Enabled)
	webhook.URL = getEnv("WEBHOOK_URL", webhook.URL)
	webhook.Timeout = getEnvMillis("WEBHOOK_TIMEOUT_MS", webhook.Timeout)

	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = getEnv("METRICS_PATH", cfg.Metrics.Path)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// Validate 校验配置，在获取任何资源之前调用
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", c.Server.MaxFrameBytes)
	}

	bridge := c.Outputs.TCPBridge
	if bridge.Enabled {
		if bridge.Host == "" {
			return errors.New("tcp bridge host is required")
		}
		if bridge.Port < 1 || bridge.Port > 65535 {
			return fmt.Errorf("%w: tcp bridge port %d", ErrInvalidPort, bridge.Port)
		}
		if bridge.InitialBackoff <= 0 || bridge.MaxBackoff < bridge.InitialBackoff {
			return fmt.Errorf("tcp bridge backoff must satisfy 0 < initial (%v) <= max (%v)",
				bridge.InitialBackoff, bridge.MaxBackoff)
		}
	}
	if c.Outputs.RedisStream.Enabled && c.Outputs.RedisStream.Stream == "" {
		return errors.New("redis stream name is required")
	}
	if c.Outputs.MQTT.Enabled && c.Outputs.MQTT.Topic == "" {
		return errors.New("mqtt output topic is required")
	}
	if c.Outputs.Webhook.Enabled && c.Outputs.Webhook.URL == "" {
		return errors.New("webhook url is required")
	}
	return nil
}

// ListenAddr 返回 host:port 形式的监听地址
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
