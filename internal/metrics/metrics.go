package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vitalconnect"

// Frame types
const (
	FrameText   = "text"
	FrameBinary = "binary"
)

// Output send results
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics 所有 Prometheus 采集器；nil *Metrics 的方法均为空操作
type Metrics struct {
	framesTotal          *prometheus.CounterVec
	batchesProcessed     prometheus.Counter
	processingErrors     *prometheus.CounterVec
	connectionsActive    prometheus.Gauge
	outputSends          *prometheus.CounterVec
	bridgeConnected      prometheus.Gauge
	bridgeReconnectTotal prometheus.Counter
	bridgeDroppedTotal   *prometheus.CounterVec
}

// New 创建并注册采集器；registerer 为 nil 时返回 nil（指标关闭）
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "WebSocket frames received, by frame type",
		}, []string{"type"}),
		batchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Batches successfully transformed and dispatched",
		}),
		processingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_errors_total",
			Help:      "Payload processing failures, by pipeline stage",
		}, []string{"stage"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently connected WebSocket clients",
		}),
		outputSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_sends_total",
			Help:      "Batch deliveries per output, by result",
		}, []string{"output", "result"}),
		bridgeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tcp_bridge",
			Name:      "connected",
			Help:      "1 when the TCP bridge has a live connection",
		}),
		bridgeReconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp_bridge",
			Name:      "reconnect_attempts_total",
			Help:      "TCP bridge connection attempts",
		}),
		bridgeDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp_bridge",
			Name:      "dropped_total",
			Help:      "Batches dropped by the TCP bridge, by reason",
		}, []string{"reason"}),
	}

	collectors := []prometheus.Collector{
		m.framesTotal,
		m.batchesProcessed,
		m.processingErrors,
		m.connectionsActive,
		m.outputSends,
		m.bridgeConnected,
		m.bridgeReconnectTotal,
		m.bridgeDroppedTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(frameType).Inc()
}

func (m *Metrics) BatchProcessed() {
	if m == nil {
		return
	}
	m.batchesProcessed.Inc()
}

func (m *Metrics) ProcessingError(stage string) {
	if m == nil {
		return
	}
	m.processingErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// OutputSend 记录一次输出结果
func (m *Metrics) OutputSend(output string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.outputSends.WithLabelValues(output, result).Inc()
}

func (m *Metrics) BridgeConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.bridgeConnected.Set(1)
		return
	}
	m.bridgeConnected.Set(0)
}

func (m *Metrics) BridgeReconnectAttempt() {
	if m == nil {
		return
	}
	m.bridgeReconnectTotal.Inc()
}

// BridgeDropped reason: disconnected / queue_full / closed
func (m *Metrics) BridgeDropped(reason string) {
	if m == nil {
		return
	}
	m.bridgeDroppedTotal.WithLabelValues(reason).Inc()
}
