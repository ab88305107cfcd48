// Package server serves viewers over WebSocket and exposes the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/config"
	"github.com/palemoky/danmaku-sync/internal/enrich"
	"github.com/palemoky/danmaku-sync/internal/ingest"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
	"github.com/palemoky/danmaku-sync/internal/room"
	"github.com/palemoky/danmaku-sync/internal/store"
	"github.com/palemoky/danmaku-sync/internal/video"
)

const (
	maxVideoIDLength = 128
	maxUserIDLength  = 64
)

// Deps 外部依赖，未提供的项按 Redis 客户端补齐
type Deps struct {
	Redis    *redis.Client
	Store    store.MessageStore
	Bridge   bridge.Bridge
	Catalog  video.Catalog
	Policy   video.Policy
	Enqueuer enrich.Enqueuer
	Logger   *zerolog.Logger
}

// Server WebSocket 服务器
type Server struct {
	config *config.Config
	nodeID string
	logger zerolog.Logger

	redis     *redis.Client
	store     store.MessageStore
	bridge    bridge.Bridge
	registry  *room.Registry
	subs      *subscriptions
	publisher *ingest.Publisher
	ingest    *ingest.Service
	callback  *enrich.Callback
	worker    *enrich.Worker
	handler   *Handler

	router     chi.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server

	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 安全组件
	rateLimiter    *RateLimiter
	originChecker  *OriginChecker
	messageLimiter *MessageRateLimiter
	danmakuLimiter *DanmakuRateLimiter
	ipFilter       *IPFilter

	// 连接控制
	maxConnections int
	semaphore      chan struct{}

	maintenanceMode bool
	maintenanceMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 连接 Redis、打开存储并创建服务器
func NewServer(cfg *config.Config) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}

	st, err := store.Open(ctx, cfg, rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("打开弹幕存储失败: %w", err)
	}

	return New(cfg, Deps{Redis: rdb, Store: st})
}

// New 用给定依赖创建服务器
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("message store is required")
	}

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = "node-" + uuid.New().String()[:8]
	}

	s := &Server{
		config:  cfg,
		nodeID:  nodeID,
		redis:   deps.Redis,
		store:   deps.Store,
		clients: make(map[string]*Client),

		rateLimiter: NewRateLimiter(
			cfg.Security.RateLimit.MaxPerSecond,
			cfg.Security.RateLimit.MaxPerMinute,
			cfg.Security.RateLimit.BanDurationTime(),
		),
		originChecker:  NewOriginChecker(cfg.Security.AllowedOrigins),
		messageLimiter: NewMessageRateLimiter(cfg.Security.MessageLimit.MaxPerSecond),
		danmakuLimiter: NewDanmakuRateLimiter(
			cfg.Security.DanmakuLimit.MaxPerSecond,
			cfg.Security.DanmakuLimit.MaxPerMinute,
			cfg.Security.DanmakuLimit.CooldownDuration(),
		),
		ipFilter: NewIPFilter(cfg.Security.IPWhitelist, cfg.Security.IPBlacklist),

		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if deps.Logger != nil {
		s.logger = *deps.Logger
	} else {
		s.logger = zerolog.New(log.Writer()).With().Timestamp().Str("node", nodeID).Logger()
	}

	s.bridge = deps.Bridge
	if s.bridge == nil {
		if deps.Redis != nil {
			s.bridge = bridge.NewRedisBridge(deps.Redis, cfg.Danmaku.RoomQueueSize)
		} else {
			s.bridge = bridge.NewLocalBridge(cfg.Danmaku.RoomQueueSize)
		}
	}

	var queue *enrich.RedisQueue
	if deps.Redis != nil {
		queue = enrich.NewRedisQueue(deps.Redis, cfg.Enrich.Queue)
		if deps.Catalog == nil {
			deps.Catalog = video.NewRedisCatalog(deps.Redis)
		}
		if deps.Policy == nil {
			deps.Policy = video.NewRedisPolicy(deps.Redis, cfg.Danmaku.AllowGuestPost)
		}
		if deps.Enqueuer == nil {
			deps.Enqueuer = queue
		}
	}
	if deps.Policy == nil {
		return nil, errors.New("post policy is required without redis")
	}

	s.subs = newSubscriptions(s)
	s.registry = room.NewRegistry(s.subs, room.Options{
		DeliveryTimeout:     cfg.Danmaku.DeliveryTimeoutDuration(),
		MaxDeliveryFailures: cfg.Danmaku.MaxDeliveryFailures,
	})
	s.publisher = ingest.NewPublisher(s.bridge, s.registry,
		cfg.Danmaku.PublishQueueSize, cfg.Danmaku.PublishTimeoutDuration(),
		ingest.WithSubscribed(s.subs.Subscribed))
	s.ingest = ingest.NewService(s.store, deps.Catalog, deps.Policy, s.publisher, deps.Enqueuer, ingest.Options{
		MaxTextLength:    cfg.Danmaku.MaxTextLength,
		MaxVideoDuration: cfg.Danmaku.MaxVideoDuration,
		Origin:           nodeID,
	})
	s.callback = enrich.NewCallback(s.store, s.bridge, nodeID)
	if queue != nil && cfg.Enrich.ScorerURL != "" {
		scorer := enrich.NewHTTPScorer(cfg.Enrich.ScorerURL, cfg.Enrich.ScoreTimeoutDuration())
		s.worker = enrich.NewWorker(queue, scorer, s.callback, cfg.Enrich.Workers)
	}

	s.handler = NewHandler(s)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originChecker.Check,
	}
	s.router = s.newRouter()

	log.Printf("🔒 安全配置: 连接限制=%d/s, 消息限制=%d/s, 弹幕限制=%d/s, 最大连接数=%d, IP白名单=%d, IP黑名单=%d",
		cfg.Security.RateLimit.MaxPerSecond, cfg.Security.MessageLimit.MaxPerSecond,
		cfg.Security.DanmakuLimit.MaxPerSecond, cfg.Server.MaxConnections,
		len(cfg.Security.IPWhitelist), len(cfg.Security.IPBlacklist))

	return s, nil
}

// Handler 返回 HTTP 路由
func (s *Server) Handler() http.Handler { return s.router }

// NodeID 本进程标识
func (s *Server) NodeID() string { return s.nodeID }

// Registry 本进程房间注册表
func (s *Server) Registry() *room.Registry { return s.registry }

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, // 防止 Slowloris 攻击
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.worker != nil {
		s.worker.Start(s.ctx)
	}
	go s.monitorStats()

	log.Printf("🚀 弹幕服务 %s 启动在 ws://%s/ws/{videoID} (CPU核心数: %d)", s.nodeID, addr, runtime.NumCPU())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWebSocket 处理 WebSocket 连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)

	if s.IsMaintenanceMode() {
		http.Error(w, "Server is under maintenance, please try again later", http.StatusServiceUnavailable)
		return
	}

	videoID := chi.URLParam(r, "videoID")
	if videoID == "" || len(videoID) > maxVideoIDLength {
		http.Error(w, "invalid video id", http.StatusBadRequest)
		return
	}

	if !s.ipFilter.IsAllowed(clientIP) {
		log.Printf("🚫 IP %s 被过滤器拒绝", clientIP)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if !s.originChecker.Check(r) {
		log.Printf("🚫 来源验证失败: %s (IP: %s)", r.Header.Get("Origin"), clientIP)
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	if !s.rateLimiter.Allow(clientIP) {
		if s.rateLimiter.IsBanned(clientIP) {
			log.Printf("🚫 IP %s 封禁中，拒绝连接", clientIP)
		}
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 信号量在连接断开时释放
	select {
	case s.semaphore <- struct{}{}:
	default:
		log.Printf("🚫 达到最大连接数限制 (%d), IP: %s", s.maxConnections, clientIP)
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		<-s.semaphore
		log.Printf("WebSocket 升级失败: %v", err)
		return
	}

	client := NewClient(s, ws, identify(r), videoID)
	client.IP = clientIP
	s.registerClient(client)
	metrics.ActiveConnections.Inc()

	client.SendMessage(codec.MustNewMessage(protocol.MsgConnected, protocol.ConnectedPayload{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		VideoID:      videoID,
		Duration:     s.ingest.Duration(r.Context(), videoID),
	}))
	client.join()

	log.Printf("✅ 观众 %s 已连接视频 %s (%s)", client.UserID, videoID, client.ID)

	go client.ReadPump()
	go client.WritePump()
}

// identify 取网关注入的用户身份，缺省为游客
func identify(r *http.Request) string {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	if userID == "" || len(userID) > maxUserIDLength {
		return video.GuestPrefix + uuid.New().String()[:8]
	}
	return userID
}

// registerClient 注册客户端
func (s *Server) registerClient(client *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client.ID] = client
}

// unregisterClient 注销客户端并释放连接名额
func (s *Server) unregisterClient(client *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		delete(s.clients, client.ID)
		<-s.semaphore
		log.Printf("❌ 观众 %s 已断开 (%s)", client.UserID, client.ID)
	}
}

// GetOnlineCount 获取在线连接数
func (s *Server) GetOnlineCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast 发送给本进程所有连接
func (s *Server) Broadcast(msg *protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		client.SendMessage(msg)
	}
}

// clampWindow 规范化历史查询区间
func (s *Server) clampWindow(from, to float64) (float64, float64, bool) {
	if math.IsNaN(from) || math.IsNaN(to) || math.IsInf(from, 0) || math.IsInf(to, 0) {
		return 0, 0, false
	}
	if from < 0 {
		from = 0
	}
	if !(from < to) {
		return 0, 0, false
	}
	if window := s.config.Danmaku.MaxHistoryWindow; window > 0 && to-from > window {
		to = from + window
	}
	return from, to, true
}

// errorReply 把业务错误转换为协议错误消息
func errorReply(err error, clientRef string) *protocol.Message {
	return codec.NewErrorMessageWithRef(apperrors.CodeOf(err), apperrors.MessageOf(err), clientRef)
}

// monitorStats 定期输出服务器状态
func (s *Server) monitorStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			log.Printf("📊 [监控] 在线: %d | 房间: %d | Goroutines: %d | 活跃连接: %d/%d | 内存: %.2f MB",
				s.GetOnlineCount(),
				s.registry.RoomCount(),
				runtime.NumGoroutine(),
				len(s.semaphore),
				s.maxConnections,
				float64(m.Alloc)/1024/1024)
		}
	}
}

// EnterMaintenanceMode 进入维护模式，拒绝新连接
func (s *Server) EnterMaintenanceMode() {
	s.maintenanceMu.Lock()
	s.maintenanceMode = true
	s.maintenanceMu.Unlock()

	s.Broadcast(codec.NewErrorMessageWithText(protocol.ErrCodeServerMaintenance, "🚧 服务器即将停机维护"))
	log.Println("🔧 进入维护模式：停止接受新连接")
}

// IsMaintenanceMode 检查是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	s.maintenanceMu.RLock()
	defer s.maintenanceMu.RUnlock()
	return s.maintenanceMode
}

// GracefulShutdown 优雅关闭：停止接入、断开连接、发完待广播的弹幕后释放资源
func (s *Server) GracefulShutdown(timeout time.Duration) {
	s.EnterMaintenanceMode()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("⚠️ HTTP 服务关闭超时: %v", err)
		}
	}

	s.Shutdown()
}

// Shutdown 关闭所有连接与后端资源
func (s *Server) Shutdown() {
	s.clientsMu.RLock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clientsMu.RUnlock()

	s.publisher.Close()

	s.cancel()
	if s.worker != nil {
		s.worker.Wait()
	}

	s.rateLimiter.Stop()
	_ = s.bridge.Close()
	if err := s.store.Close(); err != nil {
		log.Printf("关闭弹幕存储失败: %v", err)
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}

	log.Println("服务器已关闭")
}
