package protocol

import "github.com/palemoky/danmaku-sync/internal/danmaku"

// --- 客户端请求 Payloads ---

// PingPayload 心跳请求
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // 客户端时间戳（毫秒）
}

// SendDanmakuPayload 发送弹幕请求
type SendDanmakuPayload struct {
	VideoTime float64 `json:"video_time"`           // 发送时的播放进度（秒）
	Text      string  `json:"text"`                 // 弹幕内容
	Color     string  `json:"color,omitempty"`      // 调色板名称或 #rrggbb
	ClientRef string  `json:"client_ref,omitempty"` // 客户端本地标识，原样回传
}

// HistoryPayload 历史弹幕请求，区间为 [From, To)
type HistoryPayload struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// --- 服务端响应 Payloads ---

// ConnectedPayload 连接成功响应
type ConnectedPayload struct {
	ConnectionID string  `json:"connection_id"`
	UserID       string  `json:"user_id"`
	VideoID      string  `json:"video_id"`
	Duration     float64 `json:"duration,omitempty"` // 视频时长（秒），未知时为 0
}

// PongPayload 心跳响应
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// DanmakuAckPayload 发送成功确认
type DanmakuAckPayload struct {
	Danmaku   danmaku.Message `json:"danmaku"`
	ClientRef string          `json:"client_ref,omitempty"`
}

// DanmakuPayload 实时弹幕推送
type DanmakuPayload struct {
	Danmaku danmaku.Message `json:"danmaku"`
}

// DanmakuScoredPayload 打分结果推送
type DanmakuScoredPayload struct {
	ID          int64   `json:"id"`
	Score       float64 `json:"score"`
	IsHighlight bool    `json:"is_highlight"`
}

// HistoryResultPayload 历史弹幕结果，按 (video_time, id) 升序
type HistoryResultPayload struct {
	From    float64           `json:"from"`
	To      float64           `json:"to"`
	Danmaku []danmaku.Message `json:"danmaku"`
}

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"client_ref,omitempty"`
}
