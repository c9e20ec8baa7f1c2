package models

import "fmt"

// Stage 处理阶段
type Stage string

const (
	StageDecompress Stage = "decompress"
	StageParse      Stage = "parse"
	StageTransform  Stage = "transform"
)

// ProcessingError 单个事件处理失败，携带失败阶段
type ProcessingError struct {
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError 包装阶段错误
func NewProcessingError(stage Stage, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}
