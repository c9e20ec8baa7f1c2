package output

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"
	mqttcommon "github.com/UTBM-Alison/vital-connect/internal/common/mqtt"
	"github.com/UTBM-Alison/vital-connect/internal/models"

	"go.uber.org/zap"
)

const (
	vrCodePlaceholder = "{vrcode}"
	unknownVRCode     = "unknown"
)

// topicLevelReplacer 去掉 VR code 中的层级分隔符与通配符，保证只占一个主题层级
var topicLevelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_", "\x00", "")

// Publisher MQTT 发布能力
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// MQTTOutput 按 VR code 主题发布批次 JSON
type MQTTOutput struct {
	cfg     *config.MQTTConfig
	topic   string
	logger  *zap.Logger
	connect func() (Publisher, error)

	mu        sync.RWMutex
	publisher Publisher
}

// NewMQTTOutput 创建 MQTT 输出；topic 支持 {vrcode} 占位符
func NewMQTTOutput(cfg *config.MQTTConfig, topic string, logger *zap.Logger) *MQTTOutput {
	o := &MQTTOutput{
		cfg:    cfg,
		topic:  topic,
		logger: logger.With(zap.String("broker", cfg.Broker)),
	}
	o.connect = func() (Publisher, error) {
		return mqttcommon.Dial(cfg, o.logger)
	}
	return o
}

func (o *MQTTOutput) Name() string {
	return "mqtt"
}

func (o *MQTTOutput) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.publisher != nil {
		return nil
	}
	publisher, err := o.connect()
	if err != nil {
		return err
	}
	o.publisher = publisher

	o.logger.Info("MQTT output initialized", zap.String("topic", o.topic))
	return nil
}

func (o *MQTTOutput) Send(batch *models.ProcessedBatch) error {
	o.mu.RLock()
	publisher := o.publisher
	o.mu.RUnlock()
	if publisher == nil {
		return fmt.Errorf("mqtt output not initialized")
	}

	payload, err := batch.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return publisher.Publish(o.TopicFor(batch), o.cfg.QoS, false, payload)
}

// TopicFor 展开主题中的 {vrcode}
func (o *MQTTOutput) TopicFor(batch *models.ProcessedBatch) string {
	code := topicLevelReplacer.Replace(batch.VRCodeOr(unknownVRCode))
	if code == "" {
		code = unknownVRCode
	}
	return strings.ReplaceAll(o.topic, vrCodePlaceholder, code)
}

func (o *MQTTOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.publisher != nil {
		o.publisher.Disconnect()
		o.publisher = nil
	}
	return nil
}
