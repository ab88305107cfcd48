package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/bridge"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
	"github.com/palemoky/danmaku-sync/internal/store"
)

type fixture struct {
	rdb    *redis.Client
	store  *store.RedisStore
	bridge *bridge.LocalBridge
	queue  *RedisQueue
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b := bridge.NewLocalBridge(16)
	t.Cleanup(func() { _ = b.Close() })

	return &fixture{
		rdb:    rdb,
		store:  store.NewRedisStore(rdb, store.Options{MaxTextLength: 100}),
		bridge: b,
		queue:  NewRedisQueue(rdb, "test:jobs"),
	}
}

func (f *fixture) persist(t *testing.T, text string) danmaku.Message {
	t.Helper()
	msg := &danmaku.Message{VideoID: "v1", AuthorID: "u1", Text: text, VideoTime: 12}
	_, err := f.store.Append(context.Background(), msg)
	require.NoError(t, err)
	return *msg
}

type eventSink struct {
	mu     sync.Mutex
	events []bridge.Event
}

func (s *eventSink) handle(ev bridge.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *eventSink) first() bridge.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[0]
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	msg := f.persist(t, "first")
	msg2 := f.persist(t, "second")

	require.NoError(t, f.queue.Enqueue(ctx, msg))
	require.NoError(t, f.queue.Enqueue(ctx, msg2))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, msg.ID, job.MessageID, "FIFO order")
	assert.Equal(t, "first", job.Text)
	assert.Len(t, job.JobID, 26)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestRedisQueue_RejectsUnpersisted(t *testing.T) {
	t.Parallel()

	f := setup(t)
	err := f.queue.Enqueue(context.Background(), danmaku.Message{Text: "echo"})
	assert.Error(t, err)
}

func TestCallback_AttachScorePersistsAndBroadcasts(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx := context.Background()
	msg := f.persist(t, "精彩")

	var sink eventSink
	require.NoError(t, f.bridge.Subscribe(ctx, "v1", sink.handle))

	cb := NewCallback(f.store, f.bridge, "node-1")
	require.NoError(t, cb.AttachScore(ctx, msg.ID, 0.93, true))
	require.NoError(t, cb.AttachScore(ctx, msg.ID, 0.93, true))

	got, err := f.store.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.93, *got.Score, 1e-9)
	assert.True(t, got.Highlighted())

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	ev := sink.first()
	assert.Equal(t, bridge.EventScore, ev.Kind)
	assert.Equal(t, "node-1", ev.Origin)
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.True(t, ev.Message.Highlighted())
}

func TestCallback_UnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	f := setup(t)
	var sink eventSink
	require.NoError(t, f.bridge.Subscribe(context.Background(), "v1", sink.handle))

	cb := NewCallback(f.store, f.bridge, "node-1")
	require.NoError(t, cb.AttachScore(context.Background(), 404, 0.5, false))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestCallback_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := setup(t)
	cb := NewCallback(f.store, nil, "")

	assert.ErrorIs(t, cb.AttachScore(context.Background(), 0, 0.5, false), apperrors.ErrValidation)
	assert.ErrorIs(t, cb.AttachScore(context.Background(), 1, math.NaN(), false), apperrors.ErrValidation)
}

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(ctx context.Context, job Job) (float64, bool, error) {
	args := m.Called(ctx, job.MessageID)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func TestWorker_ScoresQueuedJobs(t *testing.T) {
	t.Parallel()

	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good := f.persist(t, "good")
	bad := f.persist(t, "bad")

	scorer := &mockScorer{}
	scorer.On("Score", mock.Anything, good.ID).Return(0.8, true, nil)
	scorer.On("Score", mock.Anything, bad.ID).Return(0.0, false, errors.New("model offline"))

	require.NoError(t, f.queue.Enqueue(ctx, good))
	require.NoError(t, f.queue.Enqueue(ctx, bad))

	w := NewWorker(f.queue, scorer, NewCallback(f.store, nil, "node-1"), 1)
	w.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), good.ID)
		return err == nil && got != nil && got.Scored()
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := f.queue.Len(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	w.Wait()

	failed, err := f.store.Get(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.False(t, failed.Scored())
	scorer.AssertExpectations(t)
}

func TestHTTPScorer_Score(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Text == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Score: 0.6, IsHighlight: req.ID == 7})
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL, time.Second)

	score, highlight, err := scorer.Score(context.Background(), Job{MessageID: 7, Text: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 0.6, score)
	assert.True(t, highlight)

	_, _, err = scorer.Score(context.Background(), Job{MessageID: 8, Text: "fail"})
	assert.Error(t, err)
}
