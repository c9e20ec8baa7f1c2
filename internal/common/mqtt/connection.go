package mqtt

import (
	"errors"
	"fmt"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout    = 5 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

// ErrTimeout broker 未在期限内确认
var ErrTimeout = errors.New("mqtt operation timed out")

// Connection 单个 broker 连接，仅用于发布
type Connection struct {
	client paho.Client
}

// Dial 连接 broker；断线后由 paho 自动重连
func Dial(cfg *config.MQTTConfig, logger *zap.Logger) (*Connection, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	if err := wait(client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return &Connection{client: client}, nil
}

// Publish 发布并等待确认（QoS 0 时立即返回）
func (c *Connection) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if err := wait(c.client.Publish(topic, qos, retained, payload), publishTimeout); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (c *Connection) Disconnect() {
	c.client.Disconnect(disconnectQuiesce)
}

func (c *Connection) IsConnected() bool {
	return c.client.IsConnected()
}

func wait(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}
