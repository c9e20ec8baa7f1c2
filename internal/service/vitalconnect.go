package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/metrics"
	"github.com/UTBM-Alison/vital-connect/internal/models"
	"github.com/UTBM-Alison/vital-connect/internal/output"

	"go.uber.org/zap"
)

// ErrNoOutputs 未配置任何输出
var ErrNoOutputs = errors.New("at least one output is required")

// Input 数据来源
type Input interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetBatchHandler(handler func(batch *models.ProcessedBatch))
}

type state int32

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	stateStopping
)

// outputEntry 输出及其投递计数
type outputEntry struct {
	out    output.Output
	sent   atomic.Int64
	failed atomic.Int64
}

// OutputStatistics 单个输出的投递统计
type OutputStatistics struct {
	Name   string `json:"name"`
	Sent   int64  `json:"sent"`
	Failed int64  `json:"failed"`
}

// Statistics 服务统计快照
type Statistics struct {
	BatchesReceived int64              `json:"batchesReceived"`
	TotalRooms      int64              `json:"totalRooms"`
	TotalTracks     int64              `json:"totalTracks"`
	LastUpdate      time.Time          `json:"lastUpdate"`
	StartTime       time.Time          `json:"startTime"`
	StopTime        time.Time          `json:"stopTime"`
	Uptime          time.Duration      `json:"uptime"`
	Outputs         []OutputStatistics `json:"outputs"`
}

// VitalService 管理输入生命周期并将批次分发到所有输出
type VitalService struct {
	input   Input
	metrics *metrics.Metrics
	logger  *zap.Logger

	state atomic.Int32

	// mu 串行化生命周期与输出增删；投递路径只读取 outputs 快照
	mu      sync.Mutex
	outputs atomic.Pointer[[]*outputEntry]

	batchesReceived atomic.Int64
	totalRooms      atomic.Int64
	totalTracks     atomic.Int64
	lastUpdate      atomic.Int64
	startTime       atomic.Int64
	stopTime        atomic.Int64
	lastBatch       atomic.Pointer[models.ProcessedBatch]
}

// NewVitalService 创建服务；至少需要一个输出
func NewVitalService(input Input, outputs []output.Output, m *metrics.Metrics, logger *zap.Logger) (*VitalService, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	entries := make([]*outputEntry, 0, len(outputs))
	for _, out := range outputs {
		entries = append(entries, &outputEntry{out: out})
	}

	s := &VitalService{
		input:   input,
		metrics: m,
		logger:  logger,
	}
	s.outputs.Store(&entries)
	input.SetBatchHandler(s.HandleBatch)
	return s, nil
}

// Start 初始化所有输出后启动输入；任一步失败都会回滚已初始化的输出
func (s *VitalService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(stateStopped), int32(stateStarting)) {
		return nil
	}

	entries := s.snapshot()
	for i, e := range entries {
		if err := e.out.Initialize(ctx); err != nil {
			s.logger.Error("Failed to initialize output", zap.String("output", e.out.Name()), zap.Error(err))
			s.closeOutputs(entries[:i])
			s.state.Store(int32(stateStopped))
			return fmt.Errorf("failed to initialize output %s: %w", e.out.Name(), err)
		}
	}

	if err := s.input.Start(ctx); err != nil {
		s.closeOutputs(entries)
		s.state.Store(int32(stateStopped))
		return fmt.Errorf("failed to start input: %w", err)
	}

	s.startTime.Store(time.Now().UnixNano())
	s.stopTime.Store(0)
	s.state.Store(int32(stateRunning))

	s.logger.Info("Vital service started", zap.Int("outputs", len(entries)))
	return nil
}

// Stop 先停止输入再关闭所有输出，失败只记录日志
func (s *VitalService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return nil
	}

	if err := s.input.Stop(ctx); err != nil {
		s.logger.Error("Error stopping input", zap.Error(err))
	}
	s.closeOutputs(s.snapshot())

	s.stopTime.Store(time.Now().UnixNano())
	s.state.Store(int32(stateStopped))

	stats := s.Statistics()
	s.logger.Info("Vital service stopped",
		zap.Int64("batches_received", stats.BatchesReceived),
		zap.Int64("total_rooms", stats.TotalRooms),
		zap.Int64("total_tracks", stats.TotalTracks),
		zap.Duration("uptime", stats.Uptime),
		zap.Any("outputs", stats.Outputs),
	)
	return nil
}

// IsRunning 是否处于运行状态
func (s *VitalService) IsRunning() bool {
	return state(s.state.Load()) == stateRunning
}

// HandleBatch 按注册顺序依次投递；未运行时直接丢弃
func (s *VitalService) HandleBatch(batch *models.ProcessedBatch) {
	if state(s.state.Load()) != stateRunning || batch == nil {
		return
	}

	s.batchesReceived.Add(1)
	s.totalRooms.Add(int64(len(batch.Rooms)))
	s.totalTracks.Add(int64(len(batch.AllTracks)))
	s.lastUpdate.Store(time.Now().UnixNano())
	s.lastBatch.Store(batch)

	for _, e := range s.snapshot() {
		s.deliver(e, batch)
	}
}

func (s *VitalService) deliver(e *outputEntry, batch *models.ProcessedBatch) {
	name := e.out.Name()
	err := safeSend(e.out, batch)
	s.metrics.OutputSend(name, err)
	if err != nil {
		e.failed.Add(1)
		s.logger.Warn("Failed to send batch to output", zap.String("output", name), zap.Error(err))
		return
	}
	e.sent.Add(1)
}

func safeSend(out output.Output, batch *models.ProcessedBatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("output panicked: %v", r)
		}
	}()
	return out.Send(batch)
}

// AddOutput 运行中立即初始化，停止状态下延迟到下次 Start
func (s *VitalService) AddOutput(ctx context.Context, out output.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsRunning() {
		if err := out.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize output %s: %w", out.Name(), err)
		}
	}

	current := s.snapshot()
	next := make([]*outputEntry, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, &outputEntry{out: out})
	s.outputs.Store(&next)

	s.logger.Info("Output added", zap.String("output", out.Name()))
	return nil
}

// RemoveOutput 移除并关闭输出，返回是否存在
func (s *VitalService) RemoveOutput(out output.Output) bool {
	s.mu.Lock()
	current := s.snapshot()
	next := make([]*outputEntry, 0, len(current))
	found := false
	for _, e := range current {
		if e.out == out {
			found = true
			continue
		}
		next = append(next, e)
	}
	if found {
		s.outputs.Store(&next)
	}
	s.mu.Unlock()

	if !found {
		return false
	}

	// 已发出的投递可能在关闭后完成
	if err := out.Close(); err != nil {
		s.logger.Warn("Error closing removed output", zap.String("output", out.Name()), zap.Error(err))
	}
	s.logger.Info("Output removed", zap.String("output", out.Name()))
	return true
}

// LastBatch 最近一次投递的批次
func (s *VitalService) LastBatch() *models.ProcessedBatch {
	return s.lastBatch.Load()
}

// Statistics 返回统计快照
func (s *VitalService) Statistics() Statistics {
	stats := Statistics{
		BatchesReceived: s.batchesReceived.Load(),
		TotalRooms:      s.totalRooms.Load(),
		TotalTracks:     s.totalTracks.Load(),
		LastUpdate:      unixNano(s.lastUpdate.Load()),
		StartTime:       unixNano(s.startTime.Load()),
		StopTime:        unixNano(s.stopTime.Load()),
	}

	switch {
	case stats.StartTime.IsZero():
	case s.IsRunning():
		stats.Uptime = time.Since(stats.StartTime)
	case stats.StopTime.After(stats.StartTime):
		stats.Uptime = stats.StopTime.Sub(stats.StartTime)
	}

	for _, e := range s.snapshot() {
		stats.Outputs = append(stats.Outputs, OutputStatistics{
			Name:   e.out.Name(),
			Sent:   e.sent.Load(),
			Failed: e.failed.Load(),
		})
	}
	return stats
}

func (s *VitalService) snapshot() []*outputEntry {
	return *s.outputs.Load()
}

func (s *VitalService) closeOutputs(entries []*outputEntry) {
	for _, e := range entries {
		if err := e.out.Close(); err != nil {
			s.logger.Error("Error closing output", zap.String("output", e.out.Name()), zap.Error(err))
		}
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
