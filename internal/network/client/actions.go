package client

import (
	"time"

	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// --- 便捷方法 ---

// SendDanmaku 在当前播放进度发送弹幕，clientRef 会随 ack 或错误原样返回
func (c *Client) SendDanmaku(videoTime float64, text, color, clientRef string) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgSendDanmaku, protocol.SendDanmakuPayload{
		VideoTime: videoTime,
		Text:      text,
		Color:     color,
		ClientRef: clientRef,
	}))
}

// RequestHistory 拉取 [from, to) 的历史弹幕
func (c *Client) RequestHistory(from, to float64) error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgHistory, protocol.HistoryPayload{
		From: from,
		To:   to,
	}))
}

// Ping 发送心跳
func (c *Client) Ping() error {
	return c.SendMessage(codec.MustNewMessage(protocol.MsgPing, protocol.PingPayload{
		Timestamp: time.Now().UnixMilli(),
	}))
}
