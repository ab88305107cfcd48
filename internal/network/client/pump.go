package client

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/danmaku-sync/internal/logger"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// readPump 从服务器读取消息
func (c *Client) readPump(sess *session) {
	connected := false

	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] readPump panic recovered: %v", r)
		}
		sess.close()

		if c.isClosed() {
			return
		}
		// 握手成功过的连接才尝试重连
		if connected {
			go c.tryReconnect()
			return
		}
		c.Close()
		if c.OnClose != nil {
			c.OnClose()
		}
	}()

	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				c.OnError != nil && !c.isClosed() {
				c.OnError(err)
			}
			return
		}

		msg, err := codec.Decode(data)
		if err != nil {
			log.Printf("消息解析错误: %v", err)
			continue
		}

		isReconnected := false
		switch msg.Type {
		case protocol.MsgConnected:
			connected = true
			c.handleConnected(msg)
			if sess.resumed {
				c.reconnecting.Store(false)
				c.reconnectCount = 0
				isReconnected = true
			}
		case protocol.MsgPong:
			c.handlePong(msg)
		}

		if c.OnMessage != nil {
			c.OnMessage(msg)
		}

		select {
		case c.receive <- msg:
		default:
		}

		// 重连成功回调放在最后，确保 connected 已经发送到 channel
		if isReconnected && c.OnReconnect != nil {
			c.OnReconnect()
		}
	}
}

func (c *Client) handleConnected(msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.ConnectedPayload](msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.connectionID = payload.ConnectionID
	c.userID = payload.UserID
	c.videoID = payload.VideoID
	c.duration = payload.Duration
	c.mu.Unlock()
}

func (c *Client) handlePong(msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.PongPayload](msg)
	if err != nil {
		return
	}
	latency := time.Now().UnixMilli() - payload.ClientTimestamp
	c.latency.Store(latency)
	if c.OnLatencyUpdate != nil {
		c.OnLatencyUpdate(latency)
	}
}

// writePump 向服务器写入消息
func (c *Client) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			log.Printf("[PANIC] writePump panic recovered: %v", r)
		}
		ticker.Stop()
		sess.close()
	}()

	for {
		select {
		case message := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sess.done:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = sess.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
