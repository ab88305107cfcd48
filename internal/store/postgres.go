package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
)

// PostgresStore 基于连接池的 PostgreSQL 存储
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore 连接 databaseURL 并建表
func NewPostgresStore(ctx context.Context, databaseURL string, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool, opts: opts}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS danmaku (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			text TEXT NOT NULL,
			color TEXT NOT NULL,
			video_time DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			score DOUBLE PRECISION,
			is_highlight BOOLEAN
		);
		CREATE INDEX IF NOT EXISTS idx_danmaku_video_time ON danmaku (video_id, video_time, id);
	`)
	return err
}

// Append 保存弹幕并返回序列分配的 id
func (s *PostgresStore) Append(ctx context.Context, msg *danmaku.Message) (int64, error) {
	if err := prepare(msg, s.opts); err != nil {
		return 0, err
	}
	defer observe("postgres", "append", time.Now())

	err := s.pool.QueryRow(ctx, `
		INSERT INTO danmaku (video_id, author_id, text, color, video_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, msg.VideoID, msg.AuthorID, msg.Text, msg.Color, msg.VideoTime, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return msg.ID, nil
}

// RangeByTime 查询 [from, to) 区间内的弹幕，按 (video_time, id) 排序
func (s *PostgresStore) RangeByTime(ctx context.Context, videoID string, from, to float64) ([]danmaku.Message, error) {
	if !(from < to) {
		return []danmaku.Message{}, nil
	}
	defer observe("postgres", "range", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, video_id, author_id, text, color, video_time, created_at, score, is_highlight
		FROM danmaku
		WHERE video_id = $1 AND video_time >= $2 AND video_time < $3
		ORDER BY video_time, id
	`, videoID, from, to)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	defer rows.Close()

	result := []danmaku.Message{}
	for rows.Next() {
		msg, err := scanPostgres(rows)
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		result = append(result, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return result, nil
}

// AttachScore 写入打分结果，未知 id 不更新任何行
func (s *PostgresStore) AttachScore(ctx context.Context, id int64, score float64, isHighlight bool) error {
	defer observe("postgres", "attach_score", time.Now())

	_, err := s.pool.Exec(ctx, `
		UPDATE danmaku SET score = $1, is_highlight = $2 WHERE id = $3
	`, score, isHighlight, id)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Get 按 id 获取弹幕
func (s *PostgresStore) Get(ctx context.Context, id int64) (*danmaku.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, video_id, author_id, text, color, video_time, created_at, score, is_highlight
		FROM danmaku WHERE id = $1
	`, id)
	msg, err := scanPostgres(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.StoreUnavailable(err)
	}
	return msg, nil
}

// Ping 检查数据库连接
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*danmaku.Message, error) {
	var msg danmaku.Message
	err := row.Scan(&msg.ID, &msg.VideoID, &msg.AuthorID, &msg.Text, &msg.Color,
		&msg.VideoTime, &msg.CreatedAt, &msg.Score, &msg.IsHighlight)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.Score == nil {
		msg.IsHighlight = nil
	} else if msg.IsHighlight == nil {
		h := false
		msg.IsHighlight = &h
	}
	return &msg, nil
}
