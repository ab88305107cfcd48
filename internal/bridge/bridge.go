// Package bridge fans danmaku events out across server processes so every
// process hosting viewers of a video receives what any process accepted.
package bridge

import (
	"context"
	"log"
	"sync"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/metrics"
)

// EventKind 事件类型
type EventKind int32

const (
	EventDanmaku EventKind = 1 // 新弹幕
	EventScore   EventKind = 2 // 弹幕打分完成
)

func (k EventKind) String() string {
	switch k {
	case EventDanmaku:
		return "danmaku"
	case EventScore:
		return "score"
	default:
		return "unknown"
	}
}

// Event 跨进程广播的事件
type Event struct {
	Kind    EventKind
	Origin  string // 发布方进程标识
	Message danmaku.Message
}

// Handler 处理某个视频收到的事件，同一视频的事件按发布顺序串行调用
type Handler func(Event)

// Bridge 跨进程广播通道
type Bridge interface {
	Publish(ctx context.Context, videoID string, ev Event) error
	// Subscribe 开始接收视频事件，重复订阅会替换处理函数
	Subscribe(ctx context.Context, videoID string, h Handler) error
	// Unsubscribe 停止接收，不等待已排队事件处理完成
	Unsubscribe(ctx context.Context, videoID string) error
	Close() error
}

// subscription 单个视频的有界事件队列和处理协程
type subscription struct {
	videoID string

	mu      sync.RWMutex
	handler Handler

	queue chan Event
	stop  chan struct{}
	once  sync.Once
}

func newSubscription(videoID string, h Handler, size int) *subscription {
	if size <= 0 {
		size = 256
	}
	s := &subscription{
		videoID: videoID,
		handler: h,
		queue:   make(chan Event, size),
		stop:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) setHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// offer 非阻塞入队，队列满时丢弃
func (s *subscription) offer(ev Event) bool {
	select {
	case <-s.stop:
		return false
	default:
	}

	select {
	case s.queue <- ev:
		return true
	default:
		metrics.BridgeDropped.Inc()
		log.Printf("⚠️ 视频 %s 事件队列已满，丢弃弹幕 %d", s.videoID, ev.Message.ID)
		return false
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.queue:
			s.mu.RLock()
			h := s.handler
			s.mu.RUnlock()
			s.dispatch(h, ev)
		}
	}
}

func (s *subscription) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 视频 %s 事件处理 panic: %v", s.videoID, r)
		}
	}()
	h(ev)
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}
