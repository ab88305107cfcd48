// Package video answers questions the ingest path asks about a video:
// how long it is and whether a user may post on it.
package video

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	videoKeyPrefix = "video:"
	bannedUsersKey = "danmaku:banned"
)

// Catalog 视频元数据查询
type Catalog interface {
	// Duration 返回视频时长（秒），未知视频返回 0
	Duration(ctx context.Context, videoID string) (float64, error)
}

// Policy 发送权限判断
type Policy interface {
	CanPost(ctx context.Context, userID, videoID string) (bool, error)
}

// RedisCatalog 从 hash video:{id} 的 duration 字段读取时长
type RedisCatalog struct {
	client *redis.Client
}

// NewRedisCatalog 创建视频目录
func NewRedisCatalog(client *redis.Client) *RedisCatalog {
	return &RedisCatalog{client: client}
}

// Duration 查询视频时长
func (c *RedisCatalog) Duration(ctx context.Context, videoID string) (float64, error) {
	raw, err := c.client.HGet(ctx, videoKeyPrefix+videoID, "duration").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, nil
	}
	return d, nil
}

// SetDuration 写入视频时长，供运维脚本和测试使用
func (c *RedisCatalog) SetDuration(ctx context.Context, videoID string, seconds float64) error {
	return c.client.HSet(ctx, videoKeyPrefix+videoID, "duration", strconv.FormatFloat(seconds, 'f', -1, 64)).Err()
}

// RedisPolicy 基于 Redis 集合的发送权限
//
// 全站封禁用户保存在 danmaku:banned，单个视频的禁言用户保存在 video:{id}:muted。
type RedisPolicy struct {
	client     *redis.Client
	allowGuest bool
}

// NewRedisPolicy 创建权限判断
func NewRedisPolicy(client *redis.Client, allowGuest bool) *RedisPolicy {
	return &RedisPolicy{client: client, allowGuest: allowGuest}
}

// GuestPrefix 游客 id 前缀
const GuestPrefix = "guest-"

// IsGuest 未登录或游客身份
func IsGuest(userID string) bool {
	return userID == "" || strings.HasPrefix(userID, GuestPrefix)
}

// CanPost 判断用户能否在视频下发送弹幕
func (p *RedisPolicy) CanPost(ctx context.Context, userID, videoID string) (bool, error) {
	if IsGuest(userID) && !p.allowGuest {
		return false, nil
	}

	pipe := p.client.Pipeline()
	banned := pipe.SIsMember(ctx, bannedUsersKey, userID)
	muted := pipe.SIsMember(ctx, mutedKey(videoID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return !banned.Val() && !muted.Val(), nil
}

// Ban 全站封禁用户
func (p *RedisPolicy) Ban(ctx context.Context, userID string) error {
	return p.client.SAdd(ctx, bannedUsersKey, userID).Err()
}

// Mute 在单个视频下禁言用户
func (p *RedisPolicy) Mute(ctx context.Context, videoID, userID string) error {
	return p.client.SAdd(ctx, mutedKey(videoID), userID).Err()
}

func mutedKey(videoID string) string {
	return videoKeyPrefix + videoID + ":muted"
}
