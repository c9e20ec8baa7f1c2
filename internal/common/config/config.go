package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// DatabaseConfig Postgres 连接配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT broker 配置
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// DSN 返回 lib/pq 可用的 URL 形式连接串
func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

// LoadFromEnv 读取 <prefix>_HOST、<prefix>_PORT 等变量
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("HOST", &c.Host)
	env.int("PORT", &c.Port)
	env.str("USER", &c.User)
	env.str("PASSWORD", &c.Password)
	env.str("NAME", &c.Database)
	env.str("SSLMODE", &c.SSLMode)
	env.int("MAX_CONNS", &c.MaxConns)
	env.int("MAX_IDLE", &c.MaxIdle)
}

func (c *RedisConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("ADDR", &c.Addr)
	env.str("PASSWORD", &c.Password)
	env.int("DB", &c.DB)
}

func (c *MQTTConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("BROKER", &c.Broker)
	env.str("CLIENT_ID", &c.ClientID)
	env.str("USERNAME", &c.Username)
	env.str("PASSWORD", &c.Password)

	qos := int(c.QoS)
	env.int("QOS", &qos)
	if qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

// envPrefix 只覆盖已设置且可解析的变量
type envPrefix string

func (p envPrefix) str(key string, dst *string) {
	if v := os.Getenv(string(p) + "_" + key); v != "" {
		*dst = v
	}
}

func (p envPrefix) int(key string, dst *int) {
	v := os.Getenv(string(p) + "_" + key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
