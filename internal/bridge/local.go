package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
)

var errBridgeClosed = errors.New("bridge closed")

// LocalBridge 进程内广播通道，用于单机部署和测试
type LocalBridge struct {
	queueSize int

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// NewLocalBridge 创建进程内广播通道
func NewLocalBridge(queueSize int) *LocalBridge {
	return &LocalBridge{
		queueSize: queueSize,
		subs:      make(map[string]*subscription),
	}
}

// Publish 把事件放入订阅者队列，没有订阅者时直接丢弃
func (b *LocalBridge) Publish(_ context.Context, videoID string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.BridgeUnavailable(errBridgeClosed)
	}
	if sub, ok := b.subs[videoID]; ok {
		sub.offer(ev)
	}
	return nil
}

// Subscribe 订阅视频事件
func (b *LocalBridge) Subscribe(_ context.Context, videoID string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return apperrors.BridgeUnavailable(errBridgeClosed)
	}
	if sub, ok := b.subs[videoID]; ok {
		sub.setHandler(h)
		return nil
	}
	b.subs[videoID] = newSubscription(videoID, h, b.queueSize)
	return nil
}

// Unsubscribe 退订视频事件
func (b *LocalBridge) Unsubscribe(_ context.Context, videoID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[videoID]; ok {
		sub.close()
		delete(b.subs, videoID)
	}
	return nil
}

// Close 停止所有订阅
func (b *LocalBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	return nil
}
