package enrich

import (
	"context"
	"log"
	"math"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/store"
)

// Callback 把打分结果写回存储并广播给在线观众
type Callback struct {
	store  store.MessageStore
	bridge bridge.Bridge
	origin string
}

// NewCallback 创建打分回调，bridge 为 nil 时只写存储
func NewCallback(s store.MessageStore, b bridge.Bridge, origin string) *Callback {
	return &Callback{store: s, bridge: b, origin: origin}
}

// AttachScore 写入分数。重复调用结果相同，未知 id 静默忽略
func (c *Callback) AttachScore(ctx context.Context, id int64, score float64, isHighlight bool) error {
	if id <= 0 {
		return apperrors.Validation("无效的弹幕 ID")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return apperrors.Validation("无效的分数")
	}

	if err := c.store.AttachScore(ctx, id, score, isHighlight); err != nil {
		return err
	}

	msg, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	metrics.ScoresAttached.Inc()

	if c.bridge == nil {
		return nil
	}
	// 分数已落库，广播失败只影响实时高亮
	ev := bridge.Event{Kind: bridge.EventScore, Origin: c.origin, Message: *msg}
	if err := c.bridge.Publish(ctx, msg.VideoID, ev); err != nil {
		log.Printf("⚠️ 打分结果广播失败 (弹幕 %d): %v", id, err)
	}
	return nil
}
