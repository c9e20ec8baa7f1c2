package consumer

import (
	"github.com/UTBM-Alison/vital-connect/internal/decoder"
	"github.com/UTBM-Alison/vital-connect/internal/models"
	"github.com/UTBM-Alison/vital-connect/internal/transformer"

	"go.uber.org/zap"
)

// Pipeline 解压 -> 清洗解析 -> 转换
type Pipeline struct {
	decompressor *decoder.Decompressor
	parser       *decoder.Parser
	transformer  *transformer.VitalTransformer
}

// NewPipeline 创建处理流水线
func NewPipeline(logger *zap.Logger) *Pipeline {
	return &Pipeline{
		decompressor: decoder.NewDecompressor(logger),
		parser:       decoder.NewParser(logger),
		transformer:  transformer.NewVitalTransformer(logger),
	}
}

// Process 处理一个二进制负载；失败时返回 *models.ProcessingError，不会产生部分批次
func (p *Pipeline) Process(payload []byte) (*models.ProcessedBatch, error) {
	data, err := p.decompressor.Decompress(payload)
	if err != nil {
		return nil, models.NewProcessingError(models.StageDecompress, err)
	}

	raw, err := p.parser.Parse(data)
	if err != nil {
		return nil, models.NewProcessingError(models.StageParse, err)
	}

	batch, err := p.transformer.Transform(raw)
	if err != nil {
		return nil, models.NewProcessingError(models.StageTransform, err)
	}
	return batch, nil
}
