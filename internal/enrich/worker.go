package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/palemoky/danmaku-sync/internal/metrics"
)

// Scorer 外部打分服务
type Scorer interface {
	Score(ctx context.Context, job Job) (score float64, isHighlight bool, err error)
}

// HTTPScorer 通过 HTTP POST 调用打分服务
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer 创建 HTTP 打分客户端
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{url: url, client: &http.Client{Timeout: timeout}}
}

type scoreRequest struct {
	ID        int64   `json:"id"`
	VideoID   string  `json:"video_id"`
	Text      string  `json:"text"`
	VideoTime float64 `json:"video_time"`
}

type scoreResponse struct {
	Score       float64 `json:"score"`
	IsHighlight bool    `json:"is_highlight"`
}

// Score 请求打分
func (s *HTTPScorer) Score(ctx context.Context, job Job) (float64, bool, error) {
	body, err := json.Marshal(scoreRequest{
		ID:        job.MessageID,
		VideoID:   job.VideoID,
		Text:      job.Text,
		VideoTime: job.VideoTime,
	})
	if err != nil {
		return 0, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("scorer responded %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, fmt.Errorf("decode score: %w", err)
	}
	return out.Score, out.IsHighlight, nil
}

// Worker 从队列拉取任务、调用打分服务并写回结果
type Worker struct {
	queue    *RedisQueue
	scorer   Scorer
	callback *Callback
	workers  int

	wg sync.WaitGroup
}

// NewWorker 创建打分 worker
func NewWorker(queue *RedisQueue, scorer Scorer, callback *Callback, workers int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{queue: queue, scorer: scorer, callback: callback, workers: workers}
}

// Start 启动 worker 协程，ctx 取消后退出
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	log.Printf("🧮 打分 worker 已启动 (%d 个协程)", w.workers)
}

// Wait 等待所有协程退出
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	for ctx.Err() == nil {
		job, err := w.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("拉取打分任务失败: %v", err)
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	score, highlight, err := w.scorer.Score(ctx, *job)
	if err != nil {
		metrics.EnrichJobs.WithLabelValues("score_failed").Inc()
		log.Printf("弹幕 %d 打分失败 (job %s): %v", job.MessageID, job.JobID, err)
		return
	}
	if err := w.callback.AttachScore(ctx, job.MessageID, score, highlight); err != nil {
		metrics.EnrichJobs.WithLabelValues("score_failed").Inc()
		log.Printf("弹幕 %d 写回分数失败: %v", job.MessageID, err)
		return
	}
	metrics.EnrichJobs.WithLabelValues("scored").Inc()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
