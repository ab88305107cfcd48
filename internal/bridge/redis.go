package bridge

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
)

const channelPrefix = "danmaku:live:"

// ChannelName 视频对应的 Redis 频道
func ChannelName(videoID string) string {
	return channelPrefix + videoID
}

// RedisBridge 基于 Redis pub/sub 的广播通道
//
// 每个进程只持有一个 PubSub 连接，按视频动态订阅/退订频道；
// 分发协程按频道把消息路由到各视频自己的有界队列。
type RedisBridge struct {
	rdb       *redis.Client
	ps        *redis.PubSub
	queueSize int

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	wg sync.WaitGroup
}

// NewRedisBridge 创建 Redis 广播通道
func NewRedisBridge(rdb *redis.Client, queueSize int) *RedisBridge {
	b := &RedisBridge{
		rdb:       rdb,
		ps:        rdb.Subscribe(context.Background()),
		queueSize: queueSize,
		subs:      make(map[string]*subscription),
	}

	b.wg.Add(1)
	go b.dispatch()

	return b
}

// Publish 发布事件
func (b *RedisBridge) Publish(ctx context.Context, videoID string, ev Event) error {
	if err := b.rdb.Publish(ctx, ChannelName(videoID), EncodeEvent(ev)).Err(); err != nil {
		return apperrors.BridgeUnavailable(err)
	}
	return nil
}

// Subscribe 订阅视频频道
func (b *RedisBridge) Subscribe(ctx context.Context, videoID string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[videoID]; ok {
		sub.setHandler(h)
		return nil
	}

	sub := newSubscription(videoID, h, b.queueSize)
	b.subs[videoID] = sub

	if err := b.ps.Subscribe(ctx, ChannelName(videoID)); err != nil {
		delete(b.subs, videoID)
		sub.close()
		return apperrors.BridgeUnavailable(err)
	}
	return nil
}

// Unsubscribe 退订视频频道
func (b *RedisBridge) Unsubscribe(ctx context.Context, videoID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[videoID]
	if !ok {
		return nil
	}
	delete(b.subs, videoID)
	sub.close()

	if err := b.ps.Unsubscribe(ctx, ChannelName(videoID)); err != nil {
		return apperrors.BridgeUnavailable(err)
	}
	return nil
}

// Close 关闭 PubSub 连接并停止所有分发
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	err := b.ps.Close()
	b.wg.Wait()
	return err
}

func (b *RedisBridge) dispatch() {
	defer b.wg.Done()

	for msg := range b.ps.Channel() {
		videoID := strings.TrimPrefix(msg.Channel, channelPrefix)

		ev, err := DecodeEvent([]byte(msg.Payload))
		if err != nil {
			log.Printf("广播消息解析错误 (%s): %v", msg.Channel, err)
			continue
		}

		b.mu.Lock()
		sub, ok := b.subs[videoID]
		b.mu.Unlock()
		if !ok {
			continue
		}
		sub.offer(ev)
	}
}
