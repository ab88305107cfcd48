package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/ingest"
	"github.com/palemoky/danmaku-sync/internal/metrics"
)

const (
	// 订阅/退订广播频道的超时
	subscribeTimeout = 3 * time.Second

	retryInitialBackoff = 100 * time.Millisecond
	retryMaxBackoff     = 5 * time.Second
)

// subscriptions 房间创建时订阅广播频道，清空时退订
//
// 订阅失败的视频在后台按指数退避重试，直到成功或房间清空。
// 未订阅期间发布器会把本进程的弹幕同时投递到本地房间。
type subscriptions struct {
	s *Server

	mu       sync.Mutex
	active   map[string]bool
	retrying map[string]*retrier
}

type retrier struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscriptions(s *Server) *subscriptions {
	return &subscriptions{
		s:        s,
		active:   make(map[string]bool),
		retrying: make(map[string]*retrier),
	}
}

// RoomCreated 订阅视频频道，失败时转入后台重试
func (m *subscriptions) RoomCreated(videoID string) {
	err := m.subscribe(m.s.ctx, videoID)
	if err == nil {
		return
	}
	log.Printf("⚠️ 订阅视频 %s 广播失败，后台重试: %v", videoID, err)

	ctx, cancel := context.WithCancel(m.s.ctx)
	r := &retrier{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.retrying[videoID] = r
	m.mu.Unlock()

	go m.retry(ctx, videoID, r)
}

// RoomEmptied 停止重试并退订
func (m *subscriptions) RoomEmptied(videoID string) {
	m.mu.Lock()
	r := m.retrying[videoID]
	delete(m.retrying, videoID)
	m.mu.Unlock()

	if r != nil {
		r.cancel()
		<-r.done
	}

	m.mu.Lock()
	delete(m.active, videoID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if err := m.s.bridge.Unsubscribe(ctx, videoID); err != nil {
		log.Printf("退订视频 %s 广播失败: %v", videoID, err)
	}
}

// Subscribed 本进程是否已收到该视频的跨进程广播
func (m *subscriptions) Subscribed(videoID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[videoID]
}

// counts 已订阅与重试中的视频数
func (m *subscriptions) counts() (active, retrying int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active), len(m.retrying)
}

func (m *subscriptions) subscribe(parent context.Context, videoID string) error {
	ctx, cancel := context.WithTimeout(parent, subscribeTimeout)
	defer cancel()

	err := m.s.bridge.Subscribe(ctx, videoID, func(ev bridge.Event) {
		m.s.registry.DeliverLocal(videoID, ingest.ClientMessage(ev))
	})
	if err != nil {
		metrics.SubscribeFailures.Inc()
		return err
	}

	m.mu.Lock()
	m.active[videoID] = true
	m.mu.Unlock()
	return nil
}

func (m *subscriptions) retry(ctx context.Context, videoID string, r *retrier) {
	defer close(r.done)

	backoff := retryInitialBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := m.subscribe(ctx, videoID)
		if err == nil {
			m.mu.Lock()
			if m.retrying[videoID] == r {
				delete(m.retrying, videoID)
			}
			m.mu.Unlock()
			log.Printf("✅ 视频 %s 广播订阅已恢复 (重试 %d 次)", videoID, attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}

		backoff = min(backoff*2, retryMaxBackoff)
		log.Printf("⚠️ 视频 %s 第 %d 次订阅重试失败，%v 后再试: %v", videoID, attempt, backoff, err)
		timer.Reset(backoff)
	}
}
