package server

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
	"github.com/palemoky/danmaku-sync/internal/room"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时（pong 等待时间）
	pongWait = 60 * time.Second

	// ping 发送间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 消息最大大小
	maxMessageSize = 4096

	// 发送缓冲
	sendBufferSize = 256
)

var errClientClosed = errors.New("client closed")

// Client 一个观众的 WebSocket 连接
type Client struct {
	ID      string // 连接 ID
	UserID  string // 用户身份，游客为 guest-xxx
	VideoID string // 正在观看的视频
	IP      string

	server *Server
	conn   *websocket.Conn
	send   chan []byte
	handle *room.Handle

	mu     sync.RWMutex
	closed bool
}

// NewClient 创建连接
func NewClient(s *Server, conn *websocket.Conn, userID, videoID string) *Client {
	return &Client{
		ID:      uuid.New().String(),
		UserID:  userID,
		VideoID: videoID,
		server:  s,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
	}
}

// ReadPump 从 WebSocket 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.handleDisconnect()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("读取错误 (%s): %v", c.ID, err)
			}
			return
		}

		allowed, warning := c.server.messageLimiter.AllowMessage(c.ID)
		if !allowed {
			c.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeRateLimit, "消息发送过于频繁"))
			if c.server.messageLimiter.GetWarningCount(c.ID) > 5 {
				log.Printf("🚫 连接 %s (IP: %s) 因多次超速被断开", c.ID, c.IP)
				return
			}
			continue
		}
		if warning {
			c.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeRateLimit, "请求过于频繁，请放慢速度"))
		}

		msg, err := codec.DecodePooled(data)
		if err != nil {
			c.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
			continue
		}

		// Handle 同步解析完 Payload，返回后即可归还
		c.server.handler.Handle(c, msg)
		codec.PutMessage(msg)
	}
}

// WritePump 向 WebSocket 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Deliver 在 timeout 内把已编码消息放入发送缓冲，实现 room.Conn
func (c *Client) Deliver(data []byte, timeout time.Duration) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-timer.C:
		return apperrors.DeliveryTimeout(c.ID)
	}
}

// SendMessage 直接回复当前连接，缓冲区满时断开
func (c *Client) SendMessage(msg *protocol.Message) {
	data, err := codec.Encode(msg)
	if err != nil {
		log.Printf("消息编码错误: %v", err)
		return
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		log.Printf("连接 %s 发送缓冲区已满", c.ID)
		c.Close()
	}
}

// Close 关闭发送通道，WritePump 随后发送关闭帧
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) join() {
	c.handle = c.server.registry.Join(c.VideoID, conn{c})
}

func (c *Client) handleDisconnect() {
	c.server.registry.Leave(c.handle)
	c.server.messageLimiter.RemoveClient(c.ID)
	c.server.unregisterClient(c)
	c.Close()
	metrics.ActiveConnections.Dec()
}

// conn 适配 room.Conn，Client 的 ID 是字段不能同时作为方法
type conn struct{ *Client }

func (c conn) ID() string { return c.Client.ID }
