package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"
	rediscommon "github.com/UTBM-Alison/vital-connect/internal/common/redis"
	"github.com/UTBM-Alison/vital-connect/internal/models"

	"go.uber.org/zap"
)

const redisSendTimeout = 5 * time.Second

// RedisStreamOutput 每个批次 XADD 一条 Stream 消息
type RedisStreamOutput struct {
	cfg    *config.RedisConfig
	stream string
	maxLen int64
	logger *zap.Logger

	mu     sync.RWMutex
	writer *rediscommon.StreamWriter
}

// NewRedisStreamOutput 创建 Redis Stream 输出
func NewRedisStreamOutput(cfg *config.RedisConfig, stream string, maxLen int64, logger *zap.Logger) *RedisStreamOutput {
	return &RedisStreamOutput{
		cfg:    cfg,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With(zap.String("stream", stream)),
	}
}

func (r *RedisStreamOutput) Name() string {
	return "redis_stream"
}

func (r *RedisStreamOutput) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer != nil {
		return nil
	}

	client, err := rediscommon.Dial(ctx, r.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	r.writer = rediscommon.NewStreamWriter(client, r.stream, r.maxLen)

	r.logger.Info("Redis stream output initialized", zap.String("addr", r.cfg.Addr))
	return nil
}

func (r *RedisStreamOutput) Send(batch *models.ProcessedBatch) error {
	r.mu.RLock()
	writer := r.writer
	r.mu.RUnlock()
	if writer == nil {
		return errors.New("redis stream output not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisSendTimeout)
	defer cancel()

	id, err := writer.Append(ctx, batch)
	if err != nil {
		return err
	}

	r.logger.Debug("Published batch to stream",
		zap.String("message_id", id),
		zap.Int("tracks", len(batch.AllTracks)),
	)
	return nil
}

func (r *RedisStreamOutput) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
