package output

import (
	"context"
	"fmt"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookOutput 以 HTTP POST 推送批次 JSON
type WebhookOutput struct {
	url        string
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookOutput 创建 Webhook 输出
func NewWebhookOutput(url string, timeout time.Duration, logger *zap.Logger) *WebhookOutput {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookOutput{
		url:        url,
		httpClient: client,
		logger:     logger.With(zap.String("url", url)),
	}
}

func (w *WebhookOutput) Name() string {
	return "webhook"
}

func (w *WebhookOutput) Initialize(ctx context.Context) error {
	if w.url == "" {
		return fmt.Errorf("webhook url is empty")
	}
	w.logger.Info("Webhook output initialized")
	return nil
}

// Send 非 2xx 响应视为失败
func (w *WebhookOutput) Send(batch *models.ProcessedBatch) error {
	payload, err := batch.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	resp, err := w.httpClient.R().
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	w.logger.Debug("Webhook delivered",
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("latency", resp.Time()),
	)
	return nil
}

func (w *WebhookOutput) Close() error {
	return nil
}
