package output

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/metrics"
	"github.com/UTBM-Alison/vital-connect/internal/models"

	"go.uber.org/zap"
)

// 丢弃原因（metrics 标签）
const (
	dropDisconnected = "disconnected"
	dropQueueFull    = "queue_full"
	dropClosed       = "closed"
)

// DialFunc 建立 TCP 连接（测试可替换）
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// TCPBridgeConfig TCP 转发配置
type TCPBridgeConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	QueueSize      int
}

func (c TCPBridgeConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TCPBridgeOutput 以换行分隔 JSON 转发批次的 TCP 输出
//
// 连接由后台重连循环维护，Send 从不阻塞：未连接时直接丢弃，
// 已连接时放入队列由单个写协程按 FIFO 顺序写出。
type TCPBridgeOutput struct {
	cfg     TCPBridgeConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	dial    DialFunc
	sleep   func(ctx context.Context, d time.Duration) bool

	connected atomic.Bool
	connMu    sync.Mutex
	conn      net.Conn

	// 生命周期，Initialize/Close 之间有效
	mu           sync.RWMutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	queue        chan *models.ProcessedBatch
	disconnected chan struct{}
	wg           sync.WaitGroup
}

// NewTCPBridgeOutput 创建 TCP 转发输出
func NewTCPBridgeOutput(cfg TCPBridgeConfig, m *metrics.Metrics, logger *zap.Logger) *TCPBridgeOutput {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	var dialer net.Dialer
	return &TCPBridgeOutput{
		cfg:     cfg,
		logger:  logger.With(zap.String("addr", cfg.address())),
		metrics: m,
		dial:    dialer.DialContext,
		sleep:   sleepContext,
	}
}

// WithDialer 替换拨号函数
func (t *TCPBridgeOutput) WithDialer(dial DialFunc) *TCPBridgeOutput {
	t.dial = dial
	return t
}

func (t *TCPBridgeOutput) Name() string {
	return "tcp_bridge"
}

// IsConnected 当前是否有可用连接
func (t *TCPBridgeOutput) IsConnected() bool {
	return t.connected.Load()
}

// Initialize 启动重连循环与写协程；重复调用为空操作
func (t *TCPBridgeOutput) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	// 后台任务的生命周期由 Close 决定，不跟随调用方 ctx
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.queue = make(chan *models.ProcessedBatch, t.cfg.QueueSize)
	t.disconnected = make(chan struct{}, 1)
	t.running = true

	t.wg.Add(2)
	go t.reconnectLoop(t.ctx, t.disconnected)
	go t.writeLoop(t.ctx, t.queue)

	t.logger.Info("TCP bridge output started")
	return nil
}

// Send 非阻塞投递
func (t *TCPBridgeOutput) Send(batch *models.ProcessedBatch) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.running {
		t.metrics.BridgeDropped(dropClosed)
		return nil
	}
	if !t.connected.Load() {
		t.logger.Debug("TCP bridge not connected, dropping batch")
		t.metrics.BridgeDropped(dropDisconnected)
		return nil
	}

	select {
	case t.queue <- batch:
	default:
		t.logger.Warn("TCP bridge write queue full, dropping batch", zap.Int("queue_size", cap(t.queue)))
		t.metrics.BridgeDropped(dropQueueFull)
	}
	return nil
}

// Close 停止后台任务并断开连接；未开始的写入被丢弃
func (t *TCPBridgeOutput) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	t.cancel()

	// 先断开连接以唤醒阻塞中的写操作
	t.teardown()
	t.wg.Wait()
	t.teardown()

	t.logger.Info("TCP bridge output closed")
	return nil
}

// reconnectLoop 在输出关闭前持续维护连接
func (t *TCPBridgeOutput) reconnectLoop(ctx context.Context, disconnected <-chan struct{}) {
	defer t.wg.Done()

	backoff := NewBackoff(t.cfg.InitialBackoff, t.cfg.MaxBackoff)
	for {
		if ctx.Err() != nil {
			return
		}

		if t.connected.Load() {
			select {
			case <-ctx.Done():
				return
			case <-disconnected:
			case <-time.After(t.cfg.PollInterval):
			}
			continue
		}

		t.metrics.BridgeReconnectAttempt()
		conn, err := t.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := backoff.Next()
			t.logger.Warn("Failed to connect TCP bridge, retrying",
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
			if !t.sleep(ctx, wait) {
				return
			}
			continue
		}

		backoff.Reset()
		t.connMu.Lock()
		t.conn = conn
		t.connected.Store(true)
		t.connMu.Unlock()
		t.metrics.BridgeConnected(true)
		t.logger.Info("TCP bridge connected")
	}
}

func (t *TCPBridgeOutput) connect(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	conn, err := t.dial(dialCtx, "tcp", t.cfg.address())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.cfg.address(), err)
	}
	return conn, nil
}

// writeLoop 单写协程，保证写入顺序
func (t *TCPBridgeOutput) writeLoop(ctx context.Context, queue <-chan *models.ProcessedBatch) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-queue:
			if ctx.Err() != nil {
				return
			}
			t.write(batch)
		}
	}
}

func (t *TCPBridgeOutput) write(batch *models.ProcessedBatch) {
	payload, err := json.Marshal(batch)
	if err != nil {
		t.logger.Error("Failed to serialize batch for TCP bridge", zap.Error(err))
		return
	}
	payload = append(payload, '\n')

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		t.metrics.BridgeDropped(dropDisconnected)
		return
	}

	if _, err := conn.Write(payload); err != nil {
		t.logger.Warn("TCP bridge write failed", zap.Error(err))
		t.markDisconnected(conn)
	}
}

// markDisconnected 只处理仍在使用中的 failed 连接；
// 已被重连替换的旧连接直接忽略，每个连接最多触发一次
func (t *TCPBridgeOutput) markDisconnected(failed net.Conn) {
	t.connMu.Lock()
	if t.conn != failed || !t.connected.CompareAndSwap(true, false) {
		t.connMu.Unlock()
		return
	}
	if err := failed.Close(); err != nil {
		t.logger.Debug("Error closing TCP bridge connection", zap.Error(err))
	}
	t.conn = nil
	t.connMu.Unlock()
	t.metrics.BridgeConnected(false)

	select {
	case t.disconnected <- struct{}{}:
	default:
	}
	t.logger.Warn("TCP bridge disconnected")
}

func (t *TCPBridgeOutput) teardown() {
	t.connected.Store(false)
	t.closeConn()
	t.metrics.BridgeConnected(false)
}

func (t *TCPBridgeOutput) closeConn() {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Debug("Error closing TCP bridge connection", zap.Error(err))
		}
		t.conn = nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
