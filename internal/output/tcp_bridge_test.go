package output

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBridgeConfig(port int) TCPBridgeConfig {
	return TCPBridgeConfig{
		Host:           "127.0.0.1",
		Port:           port,
		ConnectTimeout: time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		PollInterval:   20 * time.Millisecond,
		QueueSize:      16,
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	time.Sleep(time.Millisecond)
	return ctx.Err() == nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func TestBackoff_DoublesUpToCapAndResets(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestTCPBridge_DeliversNewlineDelimitedJSON(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	bridge := NewTCPBridgeOutput(testBridgeConfig(ln.Addr().(*net.TCPAddr).Port), nil, zap.NewNop())
	require.NoError(t, bridge.Initialize(context.Background()))
	defer bridge.Close()

	require.Eventually(t, bridge.IsConnected, 2*time.Second, 10*time.Millisecond)

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never connected")
	}
	defer server.Close()

	require.NoError(t, bridge.Send(sampleBatch("VR1", 1)))
	require.NoError(t, bridge.Send(sampleBatch("VR2", 2)))

	reader := bufio.NewReader(server)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))

	for _, want := range []string{"VR1", "VR2"} {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &decoded))
		assert.Equal(t, want, decoded["vrCode"])
	}
}

func TestTCPBridge_DropsWhileDisconnected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	recorder := &sleepRecorder{}
	bridge := NewTCPBridgeOutput(testBridgeConfig(1), m, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		})
	bridge.sleep = recorder.sleep

	require.NoError(t, bridge.Initialize(context.Background()))
	require.NoError(t, bridge.Send(sampleBatch("VR1", 1)))
	assert.False(t, bridge.IsConnected())
	assert.Empty(t, bridge.queue)
	require.NoError(t, bridge.Close())

	assert.Equal(t, 1.0, droppedCount(t, reg, dropDisconnected))
}

func droppedCount(t *testing.T, reg *prometheus.Registry, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "vitalconnect_tcp_bridge_dropped_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" && label.GetValue() == reason {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestTCPBridge_ReconnectBackoff(t *testing.T) {
	var attempts atomic.Int32
	recorder := &sleepRecorder{}

	cfg := testBridgeConfig(1)
	cfg.MaxBackoff = 4 * time.Second

	bridge := NewTCPBridgeOutput(cfg, nil, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			if attempts.Add(1) <= 5 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			t.Cleanup(func() { server.Close() })
			return client, nil
		})
	bridge.sleep = recorder.sleep

	require.NoError(t, bridge.Initialize(context.Background()))
	defer bridge.Close()

	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}, recorder.recorded())
}

func TestTCPBridge_WriteFailureTriggersReconnect(t *testing.T) {
	var attempts atomic.Int32
	servers := make(chan net.Conn, 4)
	recorder := &sleepRecorder{}

	bridge := NewTCPBridgeOutput(testBridgeConfig(1), nil, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			n := attempts.Add(1)
			if n == 2 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			servers <- server
			return client, nil
		})
	bridge.sleep = recorder.sleep

	require.NoError(t, bridge.Initialize(context.Background()))
	defer bridge.Close()
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)

	// 对端关闭后写入失败
	first := <-servers
	require.NoError(t, first.Close())
	require.NoError(t, bridge.Send(sampleBatch("VR1", 1)))

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)

	// 重连失败一次后退避从初始值开始
	assert.Equal(t, []time.Duration{time.Second}, recorder.recorded())

	second := <-servers
	defer second.Close()
	require.NoError(t, bridge.Send(sampleBatch("VR2", 1)))

	reader := bufio.NewReader(second)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(line), `"vrCode":"VR2"`)
}

func TestTCPBridge_StaleWriteFailureKeepsNewConnection(t *testing.T) {
	servers := make(chan net.Conn, 4)
	bridge := NewTCPBridgeOutput(testBridgeConfig(1), nil, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			client, server := net.Pipe()
			servers <- server
			return client, nil
		})
	bridge.sleep = (&sleepRecorder{}).sleep

	require.NoError(t, bridge.Initialize(context.Background()))
	defer bridge.Close()
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)

	bridge.connMu.Lock()
	first := bridge.conn
	bridge.connMu.Unlock()
	<-servers

	bridge.markDisconnected(first)
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)
	second := <-servers
	defer second.Close()

	// 旧连接迟到的失败不能关闭重连后的新连接
	bridge.markDisconnected(first)
	assert.True(t, bridge.IsConnected())
	bridge.connMu.Lock()
	current := bridge.conn
	bridge.connMu.Unlock()
	require.NotNil(t, current)
	assert.NotSame(t, first, current)

	require.NoError(t, bridge.Send(sampleBatch("VR3", 1)))
	reader := bufio.NewReader(second)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(line), `"vrCode":"VR3"`)
}

func TestTCPBridge_CloseIsIdempotent(t *testing.T) {
	bridge := NewTCPBridgeOutput(testBridgeConfig(1), nil, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		})

	// 未启动时关闭
	require.NoError(t, bridge.Close())

	require.NoError(t, bridge.Initialize(context.Background()))
	require.NoError(t, bridge.Initialize(context.Background()))

	done := make(chan struct{})
	go func() {
		assert.NoError(t, bridge.Close())
		assert.NoError(t, bridge.Close())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on reconnect backoff")
	}

	// 关闭后发送直接丢弃
	assert.NoError(t, bridge.Send(sampleBatch("VR1", 1)))
}

func TestTCPBridge_ReinitializeAfterClose(t *testing.T) {
	bridge := NewTCPBridgeOutput(testBridgeConfig(1), nil, zap.NewNop()).
		WithDialer(func(ctx context.Context, network, address string) (net.Conn, error) {
			client, server := net.Pipe()
			t.Cleanup(func() { server.Close() })
			return client, nil
		})

	require.NoError(t, bridge.Initialize(context.Background()))
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bridge.Close())
	assert.False(t, bridge.IsConnected())

	require.NoError(t, bridge.Initialize(context.Background()))
	require.Eventually(t, bridge.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bridge.Close())
}
