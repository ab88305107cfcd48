// Package enrich hands persisted danmaku to an external scorer and writes
// the results back.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/metrics"
)

// Job 一次打分任务
type Job struct {
	JobID      string    `json:"job_id"`
	MessageID  int64     `json:"message_id"`
	VideoID    string    `json:"video_id"`
	AuthorID   string    `json:"author_id"`
	Text       string    `json:"text"`
	VideoTime  float64   `json:"video_time"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Enqueuer 接收需要打分的弹幕
type Enqueuer interface {
	Enqueue(ctx context.Context, msg danmaku.Message) error
}

// RedisQueue Redis 列表实现的任务队列，LPUSH 入队、BRPOP 出队
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue 创建任务队列
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "danmaku:enrich:jobs"
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue 创建任务并入队
func (q *RedisQueue) Enqueue(ctx context.Context, msg danmaku.Message) error {
	if !msg.Persisted() {
		return fmt.Errorf("enqueue unpersisted danmaku")
	}

	job := Job{
		JobID:      ulid.Make().String(),
		MessageID:  msg.ID,
		VideoID:    msg.VideoID,
		AuthorID:   msg.AuthorID,
		Text:       msg.Text,
		VideoTime:  msg.VideoTime,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		metrics.EnrichJobs.WithLabelValues("enqueue_failed").Inc()
		return err
	}
	metrics.EnrichJobs.WithLabelValues("enqueued").Inc()
	return nil
}

// Dequeue 阻塞等待任务，超时返回 nil, nil
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res = [key, value]
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// Len 当前排队任务数
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
