package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
)

// SQLiteStore 单机部署使用的 SQLite 存储
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore 打开 dbPath 处的数据库，不存在则创建
// dbPath 为空时使用 "./data/danmaku.db"
func NewSQLiteStore(ctx context.Context, dbPath string, opts Options) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/danmaku.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// 单连接写入，避免 AUTOINCREMENT 分配时的锁冲突
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, opts: opts}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS danmaku (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		text TEXT NOT NULL,
		color TEXT NOT NULL,
		video_time REAL NOT NULL,
		created_at INTEGER NOT NULL,
		score REAL,
		is_highlight INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_danmaku_video_time ON danmaku(video_id, video_time, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append 保存弹幕并返回 id
func (s *SQLiteStore) Append(ctx context.Context, msg *danmaku.Message) (int64, error) {
	if err := prepare(msg, s.opts); err != nil {
		return 0, err
	}
	defer observe("sqlite", "append", time.Now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO danmaku (video_id, author_id, text, color, video_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.VideoID, msg.AuthorID, msg.Text, msg.Color, msg.VideoTime, msg.CreatedAt.UnixNano())
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	msg.ID = id
	return id, nil
}

// RangeByTime 查询 [from, to) 区间内的弹幕，按 (video_time, id) 排序
func (s *SQLiteStore) RangeByTime(ctx context.Context, videoID string, from, to float64) ([]danmaku.Message, error) {
	if !(from < to) {
		return []danmaku.Message{}, nil
	}
	defer observe("sqlite", "range", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, video_id, author_id, text, color, video_time, created_at, score, is_highlight
		FROM danmaku
		WHERE video_id = ? AND video_time >= ? AND video_time < ?
		ORDER BY video_time, id
	`, videoID, from, to)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	defer rows.Close()

	result := []danmaku.Message{}
	for rows.Next() {
		msg, err := scanSQLite(rows)
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
func (s *SQLiteStore) AttachScore(ctx context.Context, id int64, score float64, isHighlight bool) error {
	defer observe("sqlite", "attach_score", time.Now())

	_, err := s.db.ExecContext(ctx, `
		UPDATE danmaku SET score = ?, is_highlight = ? WHERE id = ?
	`, score, isHighlight, id)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	return nil
}

// Get 按 id 获取弹幕
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*danmaku.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, video_id, author_id, text, color, video_time, created_at, score, is_highlight
		FROM danmaku WHERE id = ?
	`, id)
	msg, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.StoreUnavailable(err)
	}
	return msg, nil
}

// Ping 检查数据库连接
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*danmaku.Message, error) {
	var (
		msg       danmaku.Message
		createdAt int64
		score     sql.NullFloat64
		highlight sql.NullBool
	)
	err := row.Scan(&msg.ID, &msg.VideoID, &msg.AuthorID, &msg.Text, &msg.Color,
		&msg.VideoTime, &createdAt, &score, &highlight)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if score.Valid {
		msg.Score = &score.Float64
		h := highlight.Valid && highlight.Bool
		msg.IsHighlight = &h
	}
	return &msg, nil
}
