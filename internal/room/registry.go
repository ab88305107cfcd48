// Package room tracks which local connections watch which video and fans
// danmaku out to them.
package room

import (
	"log"
	"sync"
	"time"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

// Conn 一个可接收推送的本地连接
type Conn interface {
	ID() string
	// Deliver 在 timeout 内把已编码的消息交给连接，超时返回错误
	Deliver(data []byte, timeout time.Duration) error
	Close()
}

// Hooks 房间生命周期回调
//
// 回调在注册表锁外执行，同一视频的创建/清空回调按发生顺序串行，
// 不同视频之间互不阻塞。
type Hooks interface {
	RoomCreated(videoID string)
	RoomEmptied(videoID string)
}

// Options 投递参数
type Options struct {
	DeliveryTimeout     time.Duration
	MaxDeliveryFailures int
}

// Registry 进程内的视频房间注册表
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	lifecycles map[string]*lifecycle
	hooks      Hooks
	opts       Options
}

// lifecycle 按票号顺序执行同一视频的回调
type lifecycle struct {
	mu      sync.Mutex
	cond    *sync.Cond
	serving uint64 // mu 保护

	next    uint64 // Registry.mu 保护
	pending int    // Registry.mu 保护
}

// Room 同一视频的本地观众
type Room struct {
	VideoID string

	mu      sync.RWMutex
	members map[string]*member

	// 串行化投递，保证同一房间内的推送顺序与调用顺序一致
	deliverMu sync.Mutex
}

type member struct {
	conn     Conn
	failures int // 连续投递失败次数，仅在 deliverMu 内读写
}

// Handle Join 返回的成员句柄，用于 Leave
type Handle struct {
	videoID string
	conn    Conn
}

// VideoID 返回句柄所属视频
func (h *Handle) VideoID() string { return h.videoID }

// NewRegistry 创建注册表，hooks 可以为 nil
func NewRegistry(hooks Hooks, opts Options) *Registry {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 500 * time.Millisecond
	}
	if opts.MaxDeliveryFailures <= 0 {
		opts.MaxDeliveryFailures = 3
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		lifecycles: make(map[string]*lifecycle),
		hooks:      hooks,
		opts:       opts,
	}
}

// Join 把连接加入视频房间，首个成员会创建房间
// 创建房间时 Join 在 RoomCreated 回调返回后才返回
func (r *Registry) Join(videoID string, conn Conn) *Handle {
	r.mu.Lock()
	rm, ok := r.rooms[videoID]
	if !ok {
		rm = &Room{VideoID: videoID, members: make(map[string]*member)}
		r.rooms[videoID] = rm
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		log.Printf("🏠 房间 %s 已创建", videoID)
	}

	rm.mu.Lock()
	rm.members[conn.ID()] = &member{conn: conn}
	rm.mu.Unlock()

	var (
		lc     *lifecycle
		ticket uint64
	)
	if !ok && r.hooks != nil {
		lc, ticket = r.takeTicket(videoID)
	}
	r.mu.Unlock()

	if lc != nil {
		r.runHook(videoID, lc, ticket, r.hooks.RoomCreated)
	}
	return &Handle{videoID: videoID, conn: conn}
}

// Leave 移除成员，房间为空时销毁。重复调用无副作用
func (r *Registry) Leave(h *Handle) {
	if h == nil {
		return
	}
	r.remove(h.videoID, h.conn)
}

// remove 仅当房间中登记的仍是同一连接时才移除
func (r *Registry) remove(videoID string, conn Conn) bool {
	r.mu.Lock()
	rm, ok := r.rooms[videoID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	rm.mu.Lock()
	m, ok := rm.members[conn.ID()]
	removed := ok && m.conn == conn
	if removed {
		delete(rm.members, conn.ID())
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	var (
		lc     *lifecycle
		ticket uint64
	)
	if empty {
		delete(r.rooms, videoID)
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		log.Printf("🏚️ 房间 %s 已清空", videoID)
		if r.hooks != nil {
			lc, ticket = r.takeTicket(videoID)
		}
	}
	r.mu.Unlock()

	if lc != nil {
		r.runHook(videoID, lc, ticket, r.hooks.RoomEmptied)
	}
	return removed
}

// takeTicket 在 r.mu 内领取回调票号，票号顺序即房间创建/清空的顺序
func (r *Registry) takeTicket(videoID string) (*lifecycle, uint64) {
	lc, ok := r.lifecycles[videoID]
	if !ok {
		lc = &lifecycle{}
		lc.cond = sync.NewCond(&lc.mu)
		r.lifecycles[videoID] = lc
	}
	ticket := lc.next
	lc.next++
	lc.pending++
	return lc, ticket
}

// runHook 等到轮到该票号再执行回调，不持有 r.mu
func (r *Registry) runHook(videoID string, lc *lifecycle, ticket uint64, hook func(string)) {
	lc.mu.Lock()
	for lc.serving != ticket {
		lc.cond.Wait()
	}
	hook(videoID)
	lc.serving++
	lc.cond.Broadcast()
	lc.mu.Unlock()

	r.mu.Lock()
	lc.pending--
	if lc.pending == 0 {
		delete(r.lifecycles, videoID)
	}
	r.mu.Unlock()
}

// DeliverLocal 把消息推送给本进程内观看该视频的所有连接，返回成功投递数
func (r *Registry) DeliverLocal(videoID string, msg *protocol.Message) int {
	r.mu.Lock()
	rm, ok := r.rooms[videoID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	data, err := codec.Encode(msg)
	if err != nil {
		log.Printf("消息编码错误: %v", err)
		return 0
	}

	rm.deliverMu.Lock()
	defer rm.deliverMu.Unlock()

	start := time.Now()
	members := rm.snapshot()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		evict     []Conn
	)
	for _, m := range members {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			if err := m.conn.Deliver(data, r.opts.DeliveryTimeout); err != nil {
				metrics.DeliveryTimeouts.Inc()
				m.failures++
				if m.failures >= r.opts.MaxDeliveryFailures {
					mu.Lock()
					evict = append(evict, m.conn)
					mu.Unlock()
				}
				return
			}
			m.failures = 0
			mu.Lock()
			delivered++
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	metrics.Delivered.Add(float64(delivered))
	metrics.FanoutDuration.Observe(time.Since(start).Seconds())

	for _, conn := range evict {
		if r.remove(videoID, conn) {
			metrics.SlowConsumersEvicted.Inc()
			log.Printf("🐢 %v，已移出房间 %s", apperrors.DeliveryTimeout(conn.ID()), videoID)
			conn.Close()
		}
	}
	return delivered
}

// RoomCount 当前房间数
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// MemberCount 视频房间内的本地连接数
func (r *Registry) MemberCount(videoID string) int {
	r.mu.Lock()
	rm, ok := r.rooms[videoID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

func (rm *Room) snapshot() []*member {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	members := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		members = append(members, m)
	}
	return members
}
