// Package ingest accepts a danmaku from a viewer and carries it through
// validation, authorization, persistence, broadcast and enrichment.
package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/enrich"
	"github.com/palemoky/danmaku-sync/internal/metrics"
	"github.com/palemoky/danmaku-sync/internal/store"
	"github.com/palemoky/danmaku-sync/internal/video"
)

// Request 一次发送请求
type Request struct {
	VideoID   string
	AuthorID  string
	VideoTime float64
	Text      string
	Color     string
}

// Options 校验参数
type Options struct {
	MaxTextLength    int
	MaxVideoDuration float64 // 未知视频的时长上限
	Origin           string  // 本进程标识，写入广播事件
}

// Service 弹幕接收链路
type Service struct {
	store     store.MessageStore
	catalog   video.Catalog
	policy    video.Policy
	publisher *Publisher
	enqueuer  enrich.Enqueuer
	opts      Options
}

// NewService 创建接收服务，enqueuer 可以为 nil
func NewService(s store.MessageStore, catalog video.Catalog, policy video.Policy,
	publisher *Publisher, enqueuer enrich.Enqueuer, opts Options,
) *Service {
	return &Service{
		store:     s,
		catalog:   catalog,
		policy:    policy,
		publisher: publisher,
		enqueuer:  enqueuer,
		opts:      opts,
	}
}

// Submit 校验、鉴权、持久化后异步广播，返回带 id 的弹幕
func (s *Service) Submit(ctx context.Context, req Request) (*danmaku.Message, error) {
	msg, err := s.submit(ctx, req)
	metrics.DanmakuSubmitted.WithLabelValues(outcome(err)).Inc()
	return msg, err
}

func (s *Service) submit(ctx context.Context, req Request) (*danmaku.Message, error) {
	text, err := danmaku.NormalizeText(req.Text, s.opts.MaxTextLength)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	color, err := danmaku.NormalizeColor(req.Color)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	duration := s.duration(ctx, req.VideoID)
	if !danmaku.ValidVideoTime(req.VideoTime, duration) {
		return nil, apperrors.Validation("播放时间点超出视频范围")
	}

	ok, err := s.policy.CanPost(ctx, req.AuthorID, req.VideoID)
	if err != nil {
		log.Printf("权限校验失败 (%s @ %s): %v", req.AuthorID, req.VideoID, err)
		return nil, apperrors.Forbidden("暂时无法校验发送权限")
	}
	if !ok {
		return nil, apperrors.Forbidden("您没有在该视频发送弹幕的权限")
	}

	msg := &danmaku.Message{
		VideoID:   req.VideoID,
		AuthorID:  req.AuthorID,
		Text:      text,
		Color:     color,
		VideoTime: req.VideoTime,
	}
	if _, err := s.store.Append(ctx, msg); err != nil {
		return nil, err
	}

	s.publisher.Publish(bridge.Event{Kind: bridge.EventDanmaku, Origin: s.opts.Origin, Message: *msg})

	if s.enqueuer != nil {
		go s.enqueue(*msg)
	}
	return msg, nil
}

// History 查询 [from, to) 区间的弹幕
func (s *Service) History(ctx context.Context, videoID string, from, to float64) ([]danmaku.Message, error) {
	if from < 0 {
		from = 0
	}
	return s.store.RangeByTime(ctx, videoID, from, to)
}

// Duration 视频时长，未知时为 0
func (s *Service) Duration(ctx context.Context, videoID string) float64 {
	if s.catalog == nil {
		return 0
	}
	d, err := s.catalog.Duration(ctx, videoID)
	if err != nil {
		log.Printf("查询视频 %s 时长失败: %v", videoID, err)
		return 0
	}
	return d
}

func (s *Service) duration(ctx context.Context, videoID string) float64 {
	if d := s.Duration(ctx, videoID); d > 0 {
		return d
	}
	return s.opts.MaxVideoDuration
}

func (s *Service) enqueue(msg danmaku.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
		log.Printf("弹幕 %d 打分任务入队失败: %v", msg.ID, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrValidation):
		return "validation"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
