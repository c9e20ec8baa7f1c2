package output

import (
	"context"

	"github.com/UTBM-Alison/vital-connect/internal/models"
)

// Output 批次输出目标
//
// Initialize 在服务启动（或运行中添加）时调用一次；Send 在投递路径上同步调用，
// 慢速 I/O 应在内部异步化；Close 必须幂等。
type Output interface {
	Name() string
	Initialize(ctx context.Context) error
	Send(batch *models.ProcessedBatch) error
	Close() error
}
