package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
)

const (
	seqKey           = "danmaku:seq"
	messageKeyPrefix = "danmaku:msg:"
	videoKeyPrefix   = "danmaku:video:"
)

// attachScoreScript 只在弹幕存在时写入分数，保证回调对未知 id 无副作用
var attachScoreScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'score', ARGV[1], 'is_highlight', ARGV[2])
	return 1
end
return 0
`)

// RedisStore Redis 弹幕存储
//
// 每条弹幕保存为一个 hash，另有按视频划分的 sorted set，score 为播放时间点，
// member 为补零的 id，使同一时间点的弹幕按 id 排序。
type RedisStore struct {
	client *redis.Client
	opts   Options
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{client: client, opts: opts}
}

func messageKey(id int64) string {
	return messageKeyPrefix + strconv.FormatInt(id, 10)
}

func videoKey(videoID string) string {
	return videoKeyPrefix + videoID
}

func member(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// Append 保存弹幕并分配 id
func (rs *RedisStore) Append(ctx context.Context, msg *danmaku.Message) (int64, error) {
	if err := prepare(msg, rs.opts); err != nil {
		return 0, err
	}
	defer observe("redis", "append", time.Now())

	id, err := rs.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	msg.ID = id

	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, messageKey(id), map[string]any{
			"id":         id,
			"video_id":   msg.VideoID,
			"author_id":  msg.AuthorID,
			"text":       msg.Text,
			"color":      msg.Color,
			"video_time": strconv.FormatFloat(msg.VideoTime, 'f', -1, 64),
			"created_at": msg.CreatedAt.UnixNano(),
		})
		pipe.ZAdd(ctx, videoKey(msg.VideoID), redis.Z{
			Score:  msg.VideoTime,
			Member: member(id),
		})
		return nil
	})
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return id, nil
}

// RangeByTime 查询 [from, to) 区间内的弹幕
func (rs *RedisStore) RangeByTime(ctx context.Context, videoID string, from, to float64) ([]danmaku.Message, error) {
	if !(from < to) {
		return []danmaku.Message{}, nil
	}
	defer observe("redis", "range", time.Now())

	ids, err := rs.client.ZRangeByScore(ctx, videoKey(videoID), &redis.ZRangeBy{
		Min: scoreBound(from),
		Max: "(" + scoreBound(to),
	}).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if len(ids) == 0 {
		return []danmaku.Message{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = rs.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range ids {
			cmds = append(cmds, pipe.HGetAll(ctx, messageKeyPrefix+trimMember(m)))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	result := make([]danmaku.Message, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		msg, err := decodeHash(fields)
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		result = append(result, *msg)
	}
	return result, nil
}

// AttachScore 写入打分结果
func (rs *RedisStore) AttachScore(ctx context.Context, id int64, score float64, isHighlight bool) error {
	defer observe("redis", "attach_score", time.Now())

	highlight := "0"
	if isHighlight {
		highlight = "1"
	}
	err := attachScoreScript.Run(ctx, rs.client, []string{messageKey(id)},
		strconv.FormatFloat(score, 'f', -1, 64), highlight).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Get 获取单条弹幕，不存在时返回 nil, nil
func (rs *RedisStore) Get(ctx context.Context, id int64) (*danmaku.Message, error) {
	fields, err := rs.client.HGetAll(ctx, messageKey(id)).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	msg, err := decodeHash(fields)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return msg, nil
}

// Ping 检查 Redis 连接
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

// Close Redis 客户端由服务器统一关闭
func (rs *RedisStore) Close() error {
	return nil
}

func scoreBound(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

func trimMember(m string) string {
	id, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return m
	}
	return strconv.FormatInt(id, 10)
}

func decodeHash(fields map[string]string) (*danmaku.Message, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}
	videoTime, err := strconv.ParseFloat(fields["video_time"], 64)
	if err != nil {
		return nil, fmt.Errorf("decode video_time: %w", err)
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	msg := &danmaku.Message{
		ID:        id,
		VideoID:   fields["video_id"],
		AuthorID:  fields["author_id"],
		Text:      fields["text"],
		Color:     fields["color"],
		VideoTime: videoTime,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}
	if raw, ok := fields["score"]; ok {
		score, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			highlight := fields["is_highlight"] == "1"
			msg.Score = &score
			msg.IsHighlight = &highlight
		}
	}
	return msg, nil
}
