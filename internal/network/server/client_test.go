package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/protocol"
	"github.com/palemoky/danmaku-sync/internal/protocol/codec"
	"github.com/palemoky/danmaku-sync/internal/video"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	s := &Server{}
	client := NewClient(s, nil, "alice", "v1")

	assert.NotEmpty(t, client.ID)
	assert.Equal(t, "alice", client.UserID)
	assert.Equal(t, "v1", client.VideoID)
	assert.Equal(t, s, client.server)
	assert.Equal(t, sendBufferSize, cap(client.send))
}

func TestClient_Deliver(t *testing.T) {
	t.Parallel()

	client := &Client{ID: "c1", send: make(chan []byte, 1)}

	require.NoError(t, client.Deliver([]byte("a"), 10*time.Millisecond))

	start := time.Now()
	err := client.Deliver([]byte("b"), 20*time.Millisecond)
	assert.ErrorIs(t, err, apperrors.ErrDeliveryTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// 消费者跟上后投递恢复
	<-client.send
	assert.NoError(t, client.Deliver([]byte("c"), 10*time.Millisecond))
}

func TestClient_DeliverAfterClose(t *testing.T) {
	t.Parallel()

	client := &Client{send: make(chan []byte, 1)}
	client.Close()

	assert.ErrorIs(t, client.Deliver([]byte("a"), time.Millisecond), errClientClosed)
}

func isClosed(c *Client) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	client := &Client{send: make(chan []byte, 1)}

	client.Close()
	assert.True(t, isClosed(client))

	assert.NotPanics(t, func() {
		client.Close()
	})

	_, ok := <-client.send
	assert.False(t, ok)
}

func TestClient_SendMessageFullBufferCloses(t *testing.T) {
	t.Parallel()

	client := &Client{ID: "c1", send: make(chan []byte, 1)}
	pong := codec.MustNewMessage(protocol.MsgPong, protocol.PongPayload{ServerTimestamp: 1})

	client.SendMessage(pong)
	assert.False(t, isClosed(client))

	client.SendMessage(pong)
	assert.True(t, isClosed(client))

	// 关闭后静默丢弃
	assert.NotPanics(t, func() { client.SendMessage(pong) })
}

func TestIdentify(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/ws/v1?user=bob", nil)
	assert.Equal(t, "bob", identify(req))

	req.Header.Set("X-User-ID", "alice")
	assert.Equal(t, "alice", identify(req), "gateway header wins")

	guest := identify(httptest.NewRequest(http.MethodGet, "/ws/v1", nil))
	assert.True(t, video.IsGuest(guest))
	assert.True(t, strings.HasPrefix(guest, video.GuestPrefix))

	long := httptest.NewRequest(http.MethodGet, "/ws/v1?user="+strings.Repeat("x", maxUserIDLength+1), nil)
	assert.True(t, video.IsGuest(identify(long)))
}
