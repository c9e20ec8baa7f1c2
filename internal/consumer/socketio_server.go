package consumer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UTBM-Alison/vital-connect/internal/config"
	"github.com/UTBM-Alison/vital-connect/internal/metrics"
	"github.com/UTBM-Alison/vital-connect/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Socket.IO v4 / Engine.IO 报文
const (
	packetOpen              = "0"
	packetPing              = "2"
	packetPong              = "3"
	packetConnect           = "40"
	packetEventPrefix       = "42"
	packetBinaryEventPrefix = "451-"
)

const (
	sendDataMarker   = "send_data"
	joinVREvent      = "join_vr"
	previewBytes     = 32
	shutdownDeadline = 5 * time.Second
)

// BatchHandler 接收处理完成的批次
type BatchHandler func(batch *models.ProcessedBatch)

type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// session 单个连接的状态，只由该连接自己的读协程修改
type session struct {
	id   string
	conn *websocket.Conn

	expectingBinary bool
	pendingEvent    string
	pendingPayload  []byte
}

func (s *session) reset() {
	s.expectingBinary = false
	s.pendingEvent = ""
	s.pendingPayload = nil
}

// SocketIOServer 实现 Socket.IO v4 子集的 WebSocket 服务端
type SocketIOServer struct {
	config   *config.Config
	pipeline *Pipeline
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	upgrader websocket.Upgrader

	running    atomic.Bool
	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	sessions map[string]*session
	handler  BatchHandler
	wg       sync.WaitGroup
}

// NewSocketIOServer 创建服务端；gatherer 非空且启用指标时在同一端口暴露 /metrics
func NewSocketIOServer(
	cfg *config.Config,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *SocketIOServer {
	return &SocketIOServer{
		config:   cfg,
		pipeline: NewPipeline(logger),
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*session),
	}
}

// SetBatchHandler 设置批次回调
func (s *SocketIOServer) SetBatchHandler(handler func(batch *models.ProcessedBatch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Start 监听端口并开始接受连接；重复调用为空操作
func (s *SocketIOServer) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	if s.gatherer != nil && s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleWebSocket)

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Socket.IO server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("Socket.IO server started",
		zap.String("addr", ln.Addr().String()),
		zap.Int64("max_frame_bytes", s.config.Server.MaxFrameBytes),
	)
	return nil
}

// Stop 停止接受连接并断开所有会话
func (s *SocketIOServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("failed to shutdown http server: %w", err)
	}

	// 已升级的连接不受 Shutdown 管理，需要逐个关闭
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.logger.Info("Socket.IO server stopped")
	return shutdownErr
}

// IsRunning 是否正在运行
func (s *SocketIOServer) IsRunning() bool {
	return s.running.Load()
}

// Addr 实际监听地址，未启动时返回空
func (s *SocketIOServer) Addr() string {
	if !s.running.Load() || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnectedClients 当前连接数
func (s *SocketIOServer) ConnectedClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SocketIOServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	if s.config.Server.MaxFrameBytes > 0 {
		conn.SetReadLimit(s.config.Server.MaxFrameBytes)
	}

	sess := &session{id: uuid.New().String(), conn: conn}
	if !s.register(sess) {
		conn.Close()
		return
	}
	defer s.unregister(sess)

	if err := s.sendHandshake(sess); err != nil {
		s.logger.Warn("Failed to send handshake", zap.String("session_id", sess.id), zap.Error(err))
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Connection read failed", zap.String("session_id", sess.id), zap.Error(err))
			}
			return
		}
		s.handleFrame(sess.id, messageType, data)
	}
}

func (s *SocketIOServer) register(sess *session) bool {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	s.logger.Info("VitalRecorder connected",
		zap.String("session_id", sess.id),
		zap.String("remote_addr", sess.conn.RemoteAddr().String()),
		zap.Int("connections", count),
	)
	return true
}

// unregister 丢弃会话状态，包括尚未关联的二进制负载
func (s *SocketIOServer) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	count := len(s.sessions)
	s.mu.Unlock()

	sess.conn.Close()
	s.metrics.ConnectionClosed()
	s.logger.Info("VitalRecorder disconnected",
		zap.String("session_id", sess.id),
		zap.Int("connections", count),
	)
	s.wg.Done()
}

func (s *SocketIOServer) sendHandshake(sess *session) error {
	payload, err := json.Marshal(handshake{
		SID:          sess.id,
		Upgrades:     []string{},
		PingInterval: s.config.Server.PingInterval,
		PingTimeout:  s.config.Server.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal handshake: %w", err)
	}
	return sess.conn.WriteMessage(websocket.TextMessage, append([]byte(packetOpen), payload...))
}

// handleFrame 按会话 ID 分发帧；未知会话只记录日志
func (s *SocketIOServer) handleFrame(sessionID string, messageType int, data []byte) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("Frame from unknown session ignored", zap.String("session_id", sessionID))
		return
	}

	switch messageType {
	case websocket.TextMessage:
		s.metrics.FrameReceived(metrics.FrameText)
		s.handleText(sess, string(data))
	case websocket.BinaryMessage:
		s.metrics.FrameReceived(metrics.FrameBinary)
		s.handleBinary(sess, data)
	}
}

func (s *SocketIOServer) handleText(sess *session, packet string) {
	switch {
	case packet == packetPing || packet == packetConnect:
		if err := sess.conn.WriteMessage(websocket.TextMessage, []byte(packetPong)); err != nil {
			s.logger.Debug("Failed to send pong", zap.String("session_id", sess.id), zap.Error(err))
		}
	case strings.HasPrefix(packet, packetBinaryEventPrefix):
		s.handlePlaceholder(sess, packet[len(packetBinaryEventPrefix):])
	case strings.HasPrefix(packet, packetEventPrefix):
		s.handleEvent(sess, packet[len(packetEventPrefix):])
	default:
		s.logger.Debug("Unhandled packet", zap.String("session_id", sess.id), zap.String("packet", truncate(packet, 64)))
	}
}

// handlePlaceholder 451-["<event>",{"_placeholder":true,"num":0}]
func (s *SocketIOServer) handlePlaceholder(sess *session, body string) {
	event, ok := extractEventName(body)
	if !ok {
		s.logger.Warn("Malformed binary event placeholder", zap.String("session_id", sess.id), zap.String("packet", truncate(body, 64)))
		return
	}

	sess.expectingBinary = true
	sess.pendingEvent = event

	if sess.pendingPayload != nil {
		payload := sess.pendingPayload
		sess.reset()
		s.correlate(sess, event, payload)
	}
}

func (s *SocketIOServer) handleBinary(sess *session, data []byte) {
	if sess.expectingBinary && sess.pendingEvent != "" {
		event := sess.pendingEvent
		sess.reset()
		s.correlate(sess, event, data)
		return
	}

	if sess.pendingPayload != nil {
		s.logger.Debug("Replacing buffered binary payload", zap.String("session_id", sess.id))
	}
	sess.pendingPayload = data
}

// correlate 只处理 send_data 事件；其他事件的负载直接丢弃
func (s *SocketIOServer) correlate(sess *session, event string, payload []byte) {
	if !strings.Contains(event, sendDataMarker) {
		s.logger.Debug("Discarding binary payload for event",
			zap.String("session_id", sess.id),
			zap.String("event", event),
			zap.Int("size", len(payload)),
		)
		return
	}
	s.process(sess, event, payload)
}

// handleEvent 42[...]：尽力解析，失败只记录日志
func (s *SocketIOServer) handleEvent(sess *session, body string) {
	event, ok := extractEventName(body)
	if !ok {
		s.logger.Debug("Could not extract event name", zap.String("session_id", sess.id), zap.String("packet", truncate(body, 64)))
		return
	}

	switch {
	case event == joinVREvent:
		args, err := eventArgs(body)
		if err != nil || len(args) < 2 {
			s.logger.Info("VitalRecorder joined room", zap.String("session_id", sess.id))
			return
		}
		s.logger.Info("VitalRecorder joined room",
			zap.String("session_id", sess.id),
			zap.String("room", argText(args[1])),
		)
	case strings.Contains(event, sendDataMarker):
		args, err := eventArgs(body)
		if err != nil || len(args) < 2 {
			s.logger.Warn("send_data event without payload", zap.String("session_id", sess.id), zap.Error(err))
			return
		}
		s.process(sess, event, inlinePayload(args[1]))
	default:
		s.logger.Debug("Received event", zap.String("session_id", sess.id), zap.String("event", event))
	}
}

// process 执行流水线，任何失败都不会影响连接
func (s *SocketIOServer) process(sess *session, event string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ProcessingError("panic")
			s.logger.Error("Panic while processing payload",
				zap.String("session_id", sess.id),
				zap.String("event", event),
				zap.Any("panic", r),
				zap.String("payload_preview", hexPreview(payload)),
			)
		}
	}()

	batch, err := s.pipeline.Process(payload)
	if err != nil {
		stage := "unknown"
		var perr *models.ProcessingError
		if errors.As(err, &perr) {
			stage = string(perr.Stage)
		}
		s.metrics.ProcessingError(stage)
		s.logger.Error("Failed to process data from client",
			zap.String("session_id", sess.id),
			zap.String("event", event),
			zap.String("stage", stage),
			zap.Int("size", len(payload)),
			zap.String("payload_preview", hexPreview(payload)),
			zap.Error(err),
		)
		return
	}

	s.metrics.BatchProcessed()
	s.logger.Debug("Processed data",
		zap.String("session_id", sess.id),
		zap.Int("rooms", len(batch.Rooms)),
		zap.Int("tracks", len(batch.AllTracks)),
	)

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler != nil {
		handler(batch)
	}
}

// extractEventName 取第一个双引号字符串
func extractEventName(body string) (string, bool) {
	start := strings.IndexByte(body, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(body[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return body[start+1 : start+1+end], true
}

func eventArgs(body string) ([]json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(body), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func argText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// inlinePayload 字符串参数优先按 base64 解码，失败则使用原始字节；非字符串参数使用其 JSON 文本
func inlinePayload(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return []byte(raw)
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	return []byte(s)
}

func hexPreview(payload []byte) string {
	if len(payload) > previewBytes {
		payload = payload[:previewBytes]
	}
	return hex.EncodeToString(payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
