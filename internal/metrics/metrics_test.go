package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilRegistererDisablesMetrics(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil receiver 不应 panic
	m.FrameReceived(FrameText)
	m.BatchProcessed()
	m.ProcessingError("parse")
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.OutputSend("console", nil)
	m.BridgeConnected(true)
	m.BridgeReconnectAttempt()
	m.BridgeDropped("queue_full")
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.FrameReceived(FrameText)
	m.FrameReceived(FrameText)
	m.FrameReceived(FrameBinary)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues(FrameText)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesTotal.WithLabelValues(FrameBinary)))

	m.BatchProcessed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesProcessed))

	m.ProcessingError("decompress")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processingErrors.WithLabelValues("decompress")))

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))

	m.OutputSend("tcp_bridge", nil)
	m.OutputSend("tcp_bridge", errors.New("boom"))
	m.OutputSend("tcp_bridge", errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outputSends.WithLabelValues("tcp_bridge", ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outputSends.WithLabelValues("tcp_bridge", ResultError)))

	m.BridgeConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeConnected))
	m.BridgeConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bridgeConnected))

	m.BridgeReconnectAttempt()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeReconnectTotal))

	m.BridgeDropped("disconnected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeDroppedTotal.WithLabelValues("disconnected")))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
