package service

import (
	"io"

	"github.com/UTBM-Alison/vital-connect/internal/config"
	"github.com/UTBM-Alison/vital-connect/internal/metrics"
	"github.com/UTBM-Alison/vital-connect/internal/output"

	"go.uber.org/zap"
)

// BuildOutputs 按配置创建已启用的输出，顺序即投递顺序
func BuildOutputs(cfg *config.Config, console io.Writer, m *metrics.Metrics, logger *zap.Logger) []output.Output {
	var outputs []output.Output

	if c := cfg.Outputs.Console; c.Enabled {
		outputs = append(outputs, output.NewConsoleOutput(console, c.Verbose, c.Colorized, logger))
	}

	if b := cfg.Outputs.TCPBridge; b.Enabled {
		outputs = append(outputs, output.NewTCPBridgeOutput(output.TCPBridgeConfig{
			Host:           b.Host,
			Port:           b.Port,
			ConnectTimeout: b.ConnectTimeout,
			InitialBackoff: b.InitialBackoff,
			MaxBackoff:     b.MaxBackoff,
			PollInterval:   b.PollInterval,
			QueueSize:      b.QueueSize,
		}, m, logger))
	}

	if s := cfg.Outputs.RedisStream; s.Enabled {
		outputs = append(outputs, output.NewRedisStreamOutput(&cfg.Redis, s.Stream, s.MaxLen, logger))
	}

	if cfg.Outputs.MQTT.Enabled {
		outputs = append(outputs, output.NewMQTTOutput(&cfg.MQTT, cfg.Outputs.MQTT.Topic, logger))
	}

	if cfg.Outputs.Postgres.Enabled {
		outputs = append(outputs, output.NewPostgresOutput(&cfg.Database, logger))
	}

	if w := cfg.Outputs.Webhook; w.Enabled {
		outputs = append(outputs, output.NewWebhookOutput(w.URL, w.Timeout, logger))
	}

	return outputs
}
