package room

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	received [][]byte
	fail     bool
	closed   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(data []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("timeout")
	}
	c.received = append(c.received, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) messages(t *testing.T) []protocol.DanmakuPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.DanmakuPayload, 0, len(c.received))
	for _, data := range c.received {
		msg, err := codec.Decode(data)
		require.NoError(t, err)
		p, err := codec.ParsePayload[protocol.DanmakuPayload](msg)
		require.NoError(t, err)
		out = append(out, *p)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type mockHooks struct {
	mock.Mock
}

func (m *mockHooks) RoomCreated(videoID string) { m.Called(videoID) }
func (m *mockHooks) RoomEmptied(videoID string) { m.Called(videoID) }

func danmakuMsg(id int64, text string) *protocol.Message {
	return codec.MustNewMessage(protocol.MsgDanmaku, protocol.DanmakuPayload{
		Danmaku: danmaku.Message{ID: id, VideoID: "v1", Text: text},
	})
}

func TestRegistry_LifecycleHooks(t *testing.T) {
	t.Parallel()

	hooks := &mockHooks{}
	hooks.On("RoomCreated", "v1").Once()
	hooks.On("RoomEmptied", "v1").Once()

	r := NewRegistry(hooks, Options{})
	a, b := newFakeConn("a"), newFakeConn("b")

	ha := r.Join("v1", a)
	hb := r.Join("v1", b)
	assert.Equal(t, 1, r.RoomCount())
	assert.Equal(t, 2, r.MemberCount("v1"))

	r.Leave(ha)
	assert.Equal(t, 1, r.MemberCount("v1"))
	r.Leave(ha) // 重复离开无副作用
	r.Leave(hb)

	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 0, r.MemberCount("v1"))
	hooks.AssertExpectations(t)
}

func TestRegistry_RoomRecreatedAfterEmpty(t *testing.T) {
	t.Parallel()

	hooks := &mockHooks{}
	hooks.On("RoomCreated", "v1").Twice()
	hooks.On("RoomEmptied", "v1").Twice()

	r := NewRegistry(hooks, Options{})
	for i := 0; i < 2; i++ {
		h := r.Join("v1", newFakeConn("a"))
		r.Leave(h)
	}
	hooks.AssertExpectations(t)
}

func TestRegistry_DeliverLocalReachesOnlyThatVideo(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, Options{})
	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	r.Join("v1", a)
	r.Join("v1", b)
	r.Join("v2", other)

	n := r.DeliverLocal("v1", danmakuMsg(1, "hello"))
	assert.Equal(t, 2, n)

	require.Len(t, a.messages(t), 1)
	assert.Equal(t, "hello", a.messages(t)[0].Danmaku.Text)
	assert.Len(t, b.messages(t), 1)
	assert.Empty(t, other.messages(t))

	assert.Equal(t, 0, r.DeliverLocal("nobody", danmakuMsg(2, "x")))
}

func TestRegistry_DeliverLocalPreservesOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, Options{})
	a := newFakeConn("a")
	r.Join("v1", a)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 50; i++ {
			r.DeliverLocal("v1", danmakuMsg(i, "m"))
		}
	}()
	wg.Wait()

	msgs := a.messages(t)
	require.Len(t, msgs, 50)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Danmaku.ID)
	}
}

func TestRegistry_SlowConsumerEvicted(t *testing.T) {
	t.Parallel()

	hooks := &mockHooks{}
	hooks.On("RoomCreated", "v1").Once()

	r := NewRegistry(hooks, Options{DeliveryTimeout: 10 * time.Millisecond, MaxDeliveryFailures: 2})
	slow, fast := newFakeConn("slow"), newFakeConn("fast")
	r.Join("v1", slow)
	r.Join("v1", fast)
	slow.setFail(true)

	assert.Equal(t, 1, r.DeliverLocal("v1", danmakuMsg(1, "a")))
	assert.Equal(t, 2, r.MemberCount("v1"), "one failure is tolerated")
	assert.False(t, slow.isClosed())

	assert.Equal(t, 1, r.DeliverLocal("v1", danmakuMsg(2, "b")))
	assert.Equal(t, 1, r.MemberCount("v1"))
	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())

	// 其他成员不受影响
	assert.Len(t, fast.messages(t), 2)
	hooks.AssertExpectations(t)
}

func TestRegistry_FailureCountResetsOnSuccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, Options{MaxDeliveryFailures: 2})
	c := newFakeConn("flaky")
	r.Join("v1", c)

	c.setFail(true)
	r.DeliverLocal("v1", danmakuMsg(1, "a"))
	c.setFail(false)
	r.DeliverLocal("v1", danmakuMsg(2, "b"))
	c.setFail(true)
	r.DeliverLocal("v1", danmakuMsg(3, "c"))

	assert.Equal(t, 1, r.MemberCount("v1"))
	assert.False(t, c.isClosed())
}

func TestRegistry_LeaveIgnoresReplacedConn(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, Options{})
	old := newFakeConn("same")
	h := r.Join("v1", old)

	replacement := newFakeConn("same")
	r.Join("v1", replacement)

	r.Leave(h)
	assert.Equal(t, 1, r.MemberCount("v1"))
	assert.Equal(t, 1, r.RoomCount())
}

// blockingHooks 在指定视频的创建回调里挂起，模拟 Redis 订阅卡住
type blockingHooks struct {
	videoID string
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHooks) RoomCreated(videoID string) {
	if videoID == h.videoID {
		close(h.entered)
		<-h.release
	}
}

func (h *blockingHooks) RoomEmptied(string) {}

func TestRegistry_SlowHookDoesNotBlockOtherVideos(t *testing.T) {
	t.Parallel()

	hooks := &blockingHooks{videoID: "v1", entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(hooks, Options{})

	joined := make(chan struct{})
	go func() {
		r.Join("v1", newFakeConn("stuck"))
		close(joined)
	}()
	<-hooks.entered

	c := newFakeConn("viewer")
	done := make(chan int)
	go func() {
		r.Join("v2", c)
		done <- r.DeliverLocal("v2", danmakuMsg(1, "hi"))
	}()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("delivery to v2 waited on the v1 hook")
	}
	assert.Equal(t, 2, r.RoomCount())
	assert.Equal(t, 1, r.MemberCount("v1"))

	close(hooks.release)
	<-joined
}

// orderHooks 记录回调顺序
type orderHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *orderHooks) RoomCreated(string) { h.record("created") }
func (h *orderHooks) RoomEmptied(string) { h.record("emptied") }

func (h *orderHooks) record(ev string) {
	time.Sleep(time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func TestRegistry_HooksAlternatePerVideo(t *testing.T) {
	t.Parallel()

	hooks := &orderHooks{}
	r := NewRegistry(hooks, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := r.Join("v1", newFakeConn(string(rune('a'+i))))
			r.Leave(h)
		}(i)
	}
	wg.Wait()

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.NotEmpty(t, hooks.events)
	require.Zero(t, len(hooks.events)%2)
	for i, ev := range hooks.events {
		if i%2 == 0 {
			assert.Equal(t, "created", ev, "event %d", i)
		} else {
			assert.Equal(t, "emptied", ev, "event %d", i)
		}
	}
	assert.Zero(t, r.RoomCount())
	assert.Empty(t, r.lifecycles)
}
