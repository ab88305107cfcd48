package protocol

import "encoding/json"

// Message 基础消息结构
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageType 消息类型
type MessageType string

// 客户端 → 服务端 消息类型
const (
	MsgPing        MessageType = "ping"         // 心跳 ping
	MsgSendDanmaku MessageType = "send_danmaku" // 发送弹幕
	MsgHistory     MessageType = "history"      // 拉取时间窗口内的历史弹幕
)

// 服务端 → 客户端 消息类型
const (
	// 连接相关
	MsgConnected MessageType = "connected" // 连接成功
	MsgPong      MessageType = "pong"      // 心跳 pong

	// 弹幕
	MsgDanmakuAck    MessageType = "danmaku_ack"    // 发送成功，携带持久化后的弹幕
	MsgDanmaku       MessageType = "danmaku"        // 实时弹幕推送
	MsgDanmakuScored MessageType = "danmaku_scored" // 弹幕打分结果
	MsgHistoryResult MessageType = "history_result" // 历史弹幕结果

	// 错误
	MsgError MessageType = "error" // 错误消息
)
