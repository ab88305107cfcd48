package client

import (
	"log"
	"time"

	"github.com/palemoky/danmaku-sync/internal/logger"
)

// StartHeartbeat 启动心跳检测
func (c *Client) StartHeartbeat() {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if c.IsConnected() {
					_ = c.Ping()
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// tryReconnect 指数退避重连，成功后由新连接的 connected 消息触发 OnReconnect
func (c *Client) tryReconnect() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] tryReconnect panic recovered: %v", r)
			c.reconnecting.Store(false)
		}
	}()

	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	backoff := c.ReconnectInterval
	for c.reconnectCount < c.MaxReconnectAttempts {
		c.reconnectCount++
		if c.OnReconnecting != nil {
			c.OnReconnecting(c.reconnectCount, c.MaxReconnectAttempts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-c.stop:
			timer.Stop()
			c.reconnecting.Store(false)
			return
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}

		conn, err := c.dial()
		if err != nil {
			log.Printf("🔄 重连失败 (%d/%d): %v", c.reconnectCount, c.MaxReconnectAttempts, err)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			c.reconnecting.Store(false)
			return
		}
		sess := newSession(conn, true)
		c.sess = sess
		c.mu.Unlock()

		go c.readPump(sess)
		go c.writePump(sess)
		return
	}

	log.Printf("❌ 重连失败，已达最大尝试次数")
	c.reconnecting.Store(false)
	c.Close()
	if c.OnClose != nil {
		c.OnClose()
	}
}
