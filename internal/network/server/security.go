package server

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// --- 连接速率限制 ---

// RateLimiter 按 IP 限制建立连接的频率，超限后封禁一段时间
type RateLimiter struct {
	requests map[string]*clientRate
	mu       sync.Mutex

	maxPerSecond int
	maxPerMinute int
	banDuration  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type clientRate struct {
	secondCount int
	minuteCount int
	lastSecond  time.Time
	lastMinute  time.Time
	bannedUntil time.Time
}

// NewRateLimiter 创建连接速率限制器
func NewRateLimiter(maxPerSecond, maxPerMinute int, banDuration time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests:     make(map[string]*clientRate),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		banDuration:  banDuration,
		stop:         make(chan struct{}),
	}
	go rl.cleanup(5 * time.Minute)
	return rl
}

// Allow 检查是否允许该 IP 建立新连接
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rate, exists := rl.requests[ip]
	if !exists {
		rl.requests[ip] = &clientRate{secondCount: 1, minuteCount: 1, lastSecond: now, lastMinute: now}
		return true
	}

	if now.Before(rate.bannedUntil) {
		return false
	}

	rate.roll(now)
	rate.secondCount++
	rate.minuteCount++

	if rate.secondCount > rl.maxPerSecond || rate.minuteCount > rl.maxPerMinute {
		rate.bannedUntil = now.Add(rl.banDuration)
		log.Printf("⚠️ IP %s 连接过于频繁，封禁 %v", ip, rl.banDuration)
		return false
	}
	return true
}

// IsBanned 检查 IP 是否处于封禁期
func (rl *RateLimiter) IsBanned(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rate, exists := rl.requests[ip]
	return exists && time.Now().Before(rate.bannedUntil)
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, rate := range rl.requests {
				if now.Sub(rate.lastMinute) > 10*time.Minute && now.After(rate.bannedUntil) {
					delete(rl.requests, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (r *clientRate) roll(now time.Time) {
	if now.Sub(r.lastSecond) >= time.Second {
		r.secondCount = 0
		r.lastSecond = now
	}
	if now.Sub(r.lastMinute) >= time.Minute {
		r.minuteCount = 0
		r.lastMinute = now
	}
}

// --- 来源验证 ---

// OriginChecker 来源验证器
type OriginChecker struct {
	allowed  map[string]bool
	allowAll bool
}

// NewOriginChecker 创建来源验证器，"*" 放行所有来源
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]bool)}
	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			return oc
		}
		oc.allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] = true
	}
	return oc
}

// Check 检查来源是否允许
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 终端客户端不带 Origin
		return true
	}
	return oc.allowed[strings.ToLower(origin)]
}

// --- IP 白名单/黑名单 ---

// IPFilter IP 过滤器，名单在启动时从配置加载
type IPFilter struct {
	whitelist map[string]bool
	blacklist map[string]bool
}

// NewIPFilter 创建 IP 过滤器，白名单非空时只放行名单内 IP
func NewIPFilter(whitelist, blacklist []string) *IPFilter {
	f := &IPFilter{
		whitelist: make(map[string]bool, len(whitelist)),
		blacklist: make(map[string]bool, len(blacklist)),
	}
	for _, ip := range whitelist {
		f.whitelist[strings.TrimSpace(ip)] = true
	}
	for _, ip := range blacklist {
		f.blacklist[strings.TrimSpace(ip)] = true
	}
	return f
}

// IsAllowed 检查 IP 是否允许
func (f *IPFilter) IsAllowed(ip string) bool {
	if len(f.whitelist) > 0 && !f.whitelist[ip] {
		return false
	}
	return !f.blacklist[ip]
}

// GetClientIP 获取客户端真实 IP，优先代理头
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// --- 消息速率限制 ---

// MessageRateLimiter 已建立连接上的消息频率限制
type MessageRateLimiter struct {
	limits map[string]*messageRate
	mu     sync.Mutex

	maxPerSecond     int
	warningThreshold int
}

type messageRate struct {
	count     int
	lastReset time.Time
	warnings  int
}

// NewMessageRateLimiter 创建消息速率限制器
func NewMessageRateLimiter(maxPerSecond int) *MessageRateLimiter {
	return &MessageRateLimiter{
		limits:           make(map[string]*messageRate),
		maxPerSecond:     maxPerSecond,
		warningThreshold: maxPerSecond / 2,
	}
}

// AllowMessage 检查是否允许处理该连接的下一条消息，接近上限时返回警告
func (ml *MessageRateLimiter) AllowMessage(connID string) (allowed bool, warning bool) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	rate, exists := ml.limits[connID]
	if !exists {
		ml.limits[connID] = &messageRate{count: 1, lastReset: now}
		return true, false
	}

	if now.Sub(rate.lastReset) >= time.Second {
		rate.count = 1
		rate.lastReset = now
		return true, false
	}

	rate.count++
	if rate.count > ml.maxPerSecond {
		rate.warnings++
		return false, true
	}
	return true, rate.count > ml.warningThreshold
}

// GetWarningCount 获取超速次数
func (ml *MessageRateLimiter) GetWarningCount(connID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if rate, exists := ml.limits[connID]; exists {
		return rate.warnings
	}
	return 0
}

// RemoveClient 移除连接记录
func (ml *MessageRateLimiter) RemoveClient(connID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limits, connID)
}

// --- 发弹幕速率限制 ---

// DanmakuRateLimiter 按用户限制发弹幕频率，超限后进入冷却
//
// 以用户而不是连接计数，同一用户开多个连接共享额度。
type DanmakuRateLimiter struct {
	users map[string]*danmakuRate
	mu    sync.Mutex

	maxPerSecond int
	maxPerMinute int
	cooldown     time.Duration
}

type danmakuRate struct {
	clientRate
}

// NewDanmakuRateLimiter 创建发弹幕速率限制器
func NewDanmakuRateLimiter(maxPerSecond, maxPerMinute int, cooldown time.Duration) *DanmakuRateLimiter {
	return &DanmakuRateLimiter{
		users:        make(map[string]*danmakuRate),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
		cooldown:     cooldown,
	}
}

// Allow 检查用户能否发送；不允许时返回剩余冷却时间
func (dl *DanmakuRateLimiter) Allow(userID string) (bool, time.Duration) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	now := time.Now()
	rate, exists := dl.users[userID]
	if !exists {
		dl.users[userID] = &danmakuRate{clientRate{secondCount: 1, minuteCount: 1, lastSecond: now, lastMinute: now}}
		return true, 0
	}

	if now.Before(rate.bannedUntil) {
		return false, rate.bannedUntil.Sub(now)
	}

	rate.roll(now)
	rate.secondCount++
	rate.minuteCount++

	if rate.secondCount > dl.maxPerSecond || rate.minuteCount > dl.maxPerMinute {
		rate.bannedUntil = now.Add(dl.cooldown)
		return false, dl.cooldown
	}
	return true, 0
}

// Reset 清除用户的计数
func (dl *DanmakuRateLimiter) Reset(userID string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	delete(dl.users, userID)
}
