// Package store 弹幕持久化与按播放时间窗口查询
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/config"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/metrics"
)

// MessageStore 弹幕存储，实现方分配全局唯一且递增的 id，不删除弹幕
type MessageStore interface {
	// Append 校验并保存弹幕，回填 ID 与 CreatedAt
	Append(ctx context.Context, msg *danmaku.Message) (int64, error)
	// RangeByTime 返回 VideoTime 落在 [from, to) 的弹幕，按 (VideoTime, ID) 排序
	RangeByTime(ctx context.Context, videoID string, from, to float64) ([]danmaku.Message, error)
	// AttachScore 写入打分结果，幂等，未知 id 无副作用
	AttachScore(ctx context.Context, id int64, score float64, isHighlight bool) error
	// Get 获取单条弹幕，id 不存在时返回 nil
	Get(ctx context.Context, id int64) (*danmaku.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options 各存储共用的校验参数
type Options struct {
	MaxTextLength int
}

// Open 按 cfg.Store.Driver 创建存储，rdb 仅 redis 驱动使用
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client) (MessageStore, error) {
	opts := Options{MaxTextLength: cfg.Danmaku.MaxTextLength}

	switch cfg.Store.Driver {
	case "", "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(rdb, opts), nil
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, cfg.Store.DSN, opts)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg.Store.DSN, opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// prepare 就地规范化弹幕，不可保存时返回校验错误
func prepare(msg *danmaku.Message, opts Options) error {
	if msg.VideoID == "" {
		return apperrors.Validation("缺少视频 ID")
	}
	text, err := danmaku.NormalizeText(msg.Text, opts.MaxTextLength)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	color, err := danmaku.NormalizeColor(msg.Color)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	if !danmaku.ValidVideoTime(msg.VideoTime, 0) {
		return apperrors.Validation("无效的播放时间点")
	}

	msg.Text = text
	msg.Color = color
	msg.CreatedAt = time.Now().UTC()
	return nil
}

func observe(driver, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
}
