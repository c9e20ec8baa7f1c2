package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"

	"github.com/go-redis/redis/v8"
)

// Dial 创建客户端并 PING，失败时关闭客户端
func Dial(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// StreamWriter 向单个 Stream 追加 JSON 消息
// 消息字段: data=<json>, timestamp=<unix 秒>
type StreamWriter struct {
	client *redis.Client
	stream string
	maxLen int64 // 大于 0 时按 MAXLEN ~ 近似裁剪
}

func NewStreamWriter(client *redis.Client, stream string, maxLen int64) *StreamWriter {
	return &StreamWriter{client: client, stream: stream, maxLen: maxLen}
}

// Append 序列化 v 并 XADD，返回消息 ID
func (w *StreamWriter) Append(ctx context.Context, v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: w.stream,
		Values: map[string]interface{}{
			"data":      string(body),
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
	if w.maxLen > 0 {
		args.MaxLen = w.maxLen
		args.Approx = true
	}

	id, err := w.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", w.stream, err)
	}
	return id, nil
}

func (w *StreamWriter) Close() error {
	return w.client.Close()
}
