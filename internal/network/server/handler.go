package server

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/ingest"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// requestTimeout 单条消息处理（落库、查询历史）的超时
const requestTimeout = 5 * time.Second

// Handler 消息处理器
type Handler struct {
	server *Server
}

// NewHandler 创建处理器
func NewHandler(s *Server) *Handler {
	return &Handler{server: s}
}

// Handle 处理消息
func (h *Handler) Handle(client *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgPing:
		h.handlePing(client, msg)
	case protocol.MsgSendDanmaku:
		h.handleSendDanmaku(client, msg)
	case protocol.MsgHistory:
		h.handleHistory(client, msg)
	default:
		log.Printf("未知消息类型: %s", msg.Type)
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
	}
}

// handlePing 处理心跳消息
func (h *Handler) handlePing(client *Client, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.PingPayload](msg)
	if err != nil {
		return
	}

	client.SendMessage(codec.MustNewMessage(protocol.MsgPong, protocol.PongPayload{
		ClientTimestamp: payload.Timestamp,
		ServerTimestamp: time.Now().UnixMilli(),
	}))
}

// handleSendDanmaku 接收弹幕，落库成功后立即回 ack，广播异步进行
func (h *Handler) handleSendDanmaku(client *Client, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.SendDanmakuPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}

	if ok, wait := h.server.danmakuLimiter.Allow(client.UserID); !ok {
		client.SendMessage(codec.NewErrorMessageWithRef(protocol.ErrCodeRateLimit,
			fmt.Sprintf("发送太快了，请 %d 秒后再试", int(math.Ceil(wait.Seconds()))), payload.ClientRef))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stored, err := h.server.ingest.Submit(ctx, ingest.Request{
		VideoID:   client.VideoID,
		AuthorID:  client.UserID,
		VideoTime: payload.VideoTime,
		Text:      payload.Text,
		Color:     payload.Color,
	})
	if err != nil {
		client.SendMessage(errorReply(err, payload.ClientRef))
		return
	}

	client.SendMessage(codec.MustNewMessage(protocol.MsgDanmakuAck, protocol.DanmakuAckPayload{
		Danmaku:   *stored,
		ClientRef: payload.ClientRef,
	}))
}

// handleHistory 查询 [from, to) 的历史弹幕
func (h *Handler) handleHistory(client *Client, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.HistoryPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}

	from, to, ok := h.server.clampWindow(payload.From, payload.To)
	if !ok {
		client.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeValidation, "历史区间不合法"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	msgs, err := h.server.ingest.History(ctx, client.VideoID, from, to)
	if err != nil {
		log.Printf("查询历史弹幕失败 (%s [%.1f, %.1f)): %v", client.VideoID, from, to, err)
		client.SendMessage(errorReply(err, ""))
		return
	}
	if msgs == nil {
		msgs = []danmaku.Message{}
	}

	client.SendMessage(codec.MustNewMessage(protocol.MsgHistoryResult, protocol.HistoryResultPayload{
		From:    from,
		To:      to,
		Danmaku: msgs,
	}))
}
