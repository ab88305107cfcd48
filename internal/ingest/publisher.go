package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// LocalDeliverer 本进程房间投递，广播失败时兜底
type LocalDeliverer interface {
	DeliverLocal(videoID string, msg *protocol.Message) int
}

// Publisher 有序、非阻塞的广播发布器
//
// 单个协程按入队顺序发布；发布失败或队列已满时转交本地投递协程，
// 保证发送者所在房间仍能看到弹幕。
type Publisher struct {
	bridge     bridge.Bridge
	local      LocalDeliverer
	subscribed func(videoID string) bool
	timeout    time.Duration

	mu         sync.RWMutex
	queue      chan bridge.Event
	localQueue chan bridge.Event
	closed     bool

	wg      sync.WaitGroup
	localWg sync.WaitGroup
}

// PublisherOption 发布器可选项
type PublisherOption func(*Publisher)

// WithSubscribed 本进程尚未订阅某视频广播时，发布成功后也投递到本地房间
func WithSubscribed(subscribed func(videoID string) bool) PublisherOption {
	return func(p *Publisher) { p.subscribed = subscribed }
}

// NewPublisher 创建发布器并启动发布协程
func NewPublisher(b bridge.Bridge, local LocalDeliverer, queueSize int, timeout time.Duration, opts ...PublisherOption) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	p := &Publisher{
		bridge:     b,
		local:      local,
		timeout:    timeout,
		queue:      make(chan bridge.Event, queueSize),
		localQueue: make(chan bridge.Event, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	p.localWg.Add(1)
	go p.runLocal()

	return p
}

// Publish 入队，不阻塞调用方
func (p *Publisher) Publish(ev bridge.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metrics.PublishFailures.WithLabelValues("closed").Inc()
		log.Printf("⚠️ 发布器已关闭，弹幕 %d 不再广播", ev.Message.ID)
		return
	}

	select {
	case p.queue <- ev:
	default:
		p.fallback(ev, "queue_full", nil)
	}
}

// Close 停止接收新事件，等待队列发布完毕与本地投递完毕
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.localQueue)
	p.localWg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for ev := range p.queue {
		// 先判断再发布：订阅在发布之后才生效时广播收不到这条弹幕
		unsubscribed := p.subscribed != nil && !p.subscribed(ev.Message.VideoID)

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.bridge.Publish(ctx, ev.Message.VideoID, ev)
		cancel()
		if err != nil {
			p.fallback(ev, "error", err)
			continue
		}
		if unsubscribed {
			p.deliverLocal(ev)
		}
	}
}

func (p *Publisher) runLocal() {
	defer p.localWg.Done()

	for ev := range p.localQueue {
		p.local.DeliverLocal(ev.Message.VideoID, ClientMessage(ev))
	}
}

func (p *Publisher) fallback(ev bridge.Event, reason string, err error) {
	if err == nil {
		err = apperrors.BridgeUnavailable(nil)
	}
	metrics.PublishFailures.WithLabelValues(reason).Inc()
	log.Printf("⚠️ 弹幕 %d 广播失败 (%s): %v，改为本地投递", ev.Message.ID, reason, err)

	p.deliverLocal(ev)
}

// deliverLocal 交给本地投递协程，队列满时丢弃，观众可通过历史补齐
func (p *Publisher) deliverLocal(ev bridge.Event) {
	if p.local == nil {
		return
	}
	select {
	case p.localQueue <- ev:
	default:
		metrics.PublishFailures.WithLabelValues("local_full").Inc()
		log.Printf("⚠️ 本地投递队列已满，丢弃弹幕 %d", ev.Message.ID)
	}
}

// ClientMessage 把广播事件转换为推送给客户端的消息
func ClientMessage(ev bridge.Event) *protocol.Message {
	if ev.Kind == bridge.EventScore {
		var (
			score     float64
			highlight bool
		)
		if ev.Message.Score != nil {
			score = *ev.Message.Score
		}
		if ev.Message.IsHighlight != nil {
			highlight = *ev.Message.IsHighlight
		}
		return codec.MustNewMessage(protocol.MsgDanmakuScored, protocol.DanmakuScoredPayload{
			ID:          ev.Message.ID,
			Score:       score,
			IsHighlight: highlight,
		})
	}
	return codec.MustNewMessage(protocol.MsgDanmaku, protocol.DanmakuPayload{Danmaku: ev.Message})
}
