package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	// 5 reqs/sec, 10 reqs/min, 1s ban
	rl := NewRateLimiter(5, 10, time.Second)
	defer rl.Stop()
	ip := "127.0.0.1"

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow(ip), "request %d should be allowed", i)
	}

	assert.False(t, rl.Allow(ip), "6th request should be blocked")
	assert.True(t, rl.IsBanned(ip))
	assert.False(t, rl.IsBanned("10.0.0.9"))
	assert.True(t, rl.Allow("10.0.0.9"), "other IPs are unaffected")
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, time.Second)
	assert.NotPanics(t, func() {
		rl.Stop()
		rl.Stop()
	})
}

func TestIPFilter(t *testing.T) {
	t.Parallel()

	open := NewIPFilter(nil, nil)
	assert.True(t, open.IsAllowed("192.168.1.1"))

	blocked := NewIPFilter(nil, []string{"192.168.1.1"})
	assert.False(t, blocked.IsAllowed("192.168.1.1"))
	assert.True(t, blocked.IsAllowed("192.168.1.2"))

	// 白名单非空时只放行名单内 IP，黑名单优先
	listed := NewIPFilter([]string{"10.0.0.1", " 10.0.0.2"}, []string{"10.0.0.2"})
	assert.False(t, listed.IsAllowed("192.168.1.1"))
	assert.True(t, listed.IsAllowed("10.0.0.1"))
	assert.False(t, listed.IsAllowed("10.0.0.2"))
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"allow all", []string{"*"}, "https://evil.example", true},
		{"listed origin", []string{"https://Video.example/"}, "https://video.example", true},
		{"unlisted origin", []string{"https://video.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://video.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/v1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, NewOriginChecker(tt.allowed).Check(req))
		})
	}
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", GetClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", GetClientIP(req))
}

func TestMessageRateLimiter(t *testing.T) {
	t.Parallel()

	ml := NewMessageRateLimiter(5)
	connID := "conn-1"

	for i := 0; i < 5; i++ {
		allowed, warning := ml.AllowMessage(connID)
		assert.True(t, allowed)
		// warningThreshold = 5 / 2 = 2
		assert.Equal(t, i >= 2, warning, "message %d", i)
	}

	allowed, warning := ml.AllowMessage(connID)
	assert.False(t, allowed)
	assert.True(t, warning)
	assert.Equal(t, 1, ml.GetWarningCount(connID))

	ml.RemoveClient(connID)
	assert.Zero(t, ml.GetWarningCount(connID))
}

func TestDanmakuRateLimiter(t *testing.T) {
	t.Parallel()

	dl := NewDanmakuRateLimiter(2, 30, 5*time.Second)

	ok, _ := dl.Allow("alice")
	assert.True(t, ok)
	ok, _ = dl.Allow("alice")
	assert.True(t, ok)

	ok, wait := dl.Allow("alice")
	assert.False(t, ok)
	assert.Equal(t, 5*time.Second, wait)

	ok, wait = dl.Allow("alice")
	assert.False(t, ok, "still cooling down")
	assert.Positive(t, wait)
	assert.LessOrEqual(t, wait, 5*time.Second)

	ok, _ = dl.Allow("bob")
	assert.True(t, ok, "limits are per user")

	dl.Reset("alice")
	ok, _ = dl.Allow("alice")
	assert.True(t, ok)
}
