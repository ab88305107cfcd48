// Package client is the viewer-side WebSocket connection to the danmaku server.
package client

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// 心跳检测间隔
	heartbeatInterval = 5 * time.Second
	// 最大重连次数
	maxReconnectAttempts = 5
	// 首次重连间隔，之后指数退避
	reconnectInterval = 2 * time.Second
	// 退避上限
	maxReconnectBackoff = 30 * time.Second

	sendBufferSize    = 256
	receiveBufferSize = 256
)

var (
	ErrNotConnected   = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrReceiveTimeout = errors.New("receive timeout")
)

// session 一次物理连接，重连时整体替换
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	// resumed 为 true 表示这是重连建立的连接
	resumed bool
}

func newSession(conn *websocket.Conn, resumed bool) *session {
	return &session{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		resumed: resumed,
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Client WebSocket 客户端
type Client struct {
	ServerURL string

	// 重连策略，Connect 之前修改
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// 回调，Connect 之前设置
	OnMessage       func(*protocol.Message)  // 消息回调
	OnError         func(error)              // 错误回调
	OnClose         func()                   // 连接断开且放弃重连时调用
	OnReconnecting  func(attempt, limit int) // 开始第 attempt 次重连
	OnReconnect     func()                   // 重连成功回调（收到新连接的 connected 之后）
	OnLatencyUpdate func(int64)              // 延迟更新回调

	mu           sync.RWMutex
	sess         *session
	closed       bool
	connectionID string
	userID       string
	videoID      string
	duration     float64

	receive chan *protocol.Message
	stop    chan struct{}

	latency        atomic.Int64
	reconnecting   atomic.Bool
	reconnectCount int
}

// NewClient 创建客户端
func NewClient(serverURL string) *Client {
	return &Client{
		ServerURL:            serverURL,
		MaxReconnectAttempts: maxReconnectAttempts,
		ReconnectInterval:    reconnectInterval,
		receive:              make(chan *protocol.Message, receiveBufferSize),
		stop:                 make(chan struct{}),
	}
}

// BuildURL 拼出视频房间的 WebSocket 地址，base 形如 ws://host:port
func BuildURL(base, videoID, userID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported scheme: " + u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + videoID
	if userID != "" {
		q := u.Query()
		q.Set("user", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect 连接服务器
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	sess := newSession(conn, false)
	c.sess = sess
	c.mu.Unlock()

	go c.readPump(sess)
	go c.writePump(sess)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.Dial(c.ServerURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendMessage 发送消息，不阻塞
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.RLock()
	sess, closed := c.sess, c.closed
	c.mu.RUnlock()
	if closed || sess == nil {
		return ErrNotConnected
	}

	data, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-sess.done:
		return ErrNotConnected
	default:
	}

	select {
	case sess.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Receive 接收消息 (阻塞)
func (c *Client) Receive() (*protocol.Message, error) {
	select {
	case msg := <-c.receive:
		return msg, nil
	case <-c.stop:
		return nil, ErrNotConnected
	}
}

// ReceiveWithTimeout 带超时接收消息
func (c *Client) ReceiveWithTimeout(timeout time.Duration) (*protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.receive:
		return msg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-c.stop:
		return nil, ErrNotConnected
	}
}

// Close 关闭连接并停止重连
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
	if c.sess != nil {
		c.sess.close()
	}
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || c.sess == nil {
		return false
	}
	select {
	case <-c.sess.done:
		return false
	default:
		return true
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ConnectionID 服务端分配的连接 id，重连后会变化
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// UserID 服务端确认的身份，未登录时为游客 id
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// VideoID 当前房间
func (c *Client) VideoID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.videoID
}

// Duration 视频时长（秒），未知时为 0
func (c *Client) Duration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration
}

// GetLatency 获取当前延迟（毫秒）
func (c *Client) GetLatency() int64 {
	return c.latency.Load()
}

// IsReconnecting 是否正在重连
func (c *Client) IsReconnecting() bool {
	return c.reconnecting.Load()
}
