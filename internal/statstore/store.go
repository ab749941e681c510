// Package statstore persists computed star-contributor results in SQLite so
// that expensive per-commit diff scans survive process restarts. Records are
// keyed by wiki/page plus the head commit of the page's history: any new
// commit naturally invalidates the record, and an expiry column bounds how
// long a stale head may be served.
package statstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动
)

// Store 封装统计库连接。零值不可用，必须经 Open 构建。
type Store struct {
	db *sql.DB
}

// StarRecord 是一次星级贡献者计算的持久化结果。
type StarRecord struct {
	Wiki       string
	Page       string
	HeadSHA    string
	Login      string
	UserID     int64
	Score      int64
	Commits    int
	Additions  int
	Deletions  int
	ComputedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS star_cache (
	wiki        TEXT NOT NULL,
	page        TEXT NOT NULL,
	head_sha    TEXT NOT NULL,
	login       TEXT NOT NULL,
	user_id     INTEGER NOT NULL,
	score       INTEGER NOT NULL,
	commits     INTEGER NOT NULL,
	additions   INTEGER NOT NULL,
	deletions   INTEGER NOT NULL,
	computed_at TEXT NOT NULL,
	expires_at  TEXT NOT NULL,
	PRIMARY KEY (wiki, page)
);
`

// Open 打开（必要时创建）统计库。路径为空时返回 nil Store，调用方按未启用处理。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建统计库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开统计库失败: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 pragma 失败: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化统计库结构失败: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层连接。nil Store 上调用为空操作。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetStar 读取 wiki/page 的计算结果。head 不匹配或已过期按未命中处理，
// 过期行顺手删除。
func (s *Store) GetStar(wiki, page, headSHA string) (*StarRecord, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, nil
	}

	var record StarRecord
	var computedAt, expiresAt string
	err := s.db.QueryRow(`
		SELECT head_sha, login, user_id, score, commits, additions, deletions, computed_at, expires_at
		FROM star_cache
		WHERE wiki = ? AND page = ?
	`, wiki, page).Scan(
		&record.HeadSHA, &record.Login, &record.UserID, &record.Score,
		&record.Commits, &record.Additions, &record.Deletions, &computedAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取星级缓存失败: %w", err)
	}

	if record.HeadSHA != headSHA {
		return nil, false, nil
	}

	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("非法过期时间: %w", err)
	}
	if time.Now().After(expiry) {
		s.db.Exec("DELETE FROM star_cache WHERE wiki = ? AND page = ?", wiki, page)
		return nil, false, nil
	}

	if parsed, err := time.Parse(time.RFC3339, computedAt); err == nil {
		record.ComputedAt = parsed
	}
	record.Wiki = wiki
	record.Page = page
	return &record, true, nil
}

// PutStar 写入（或覆盖）计算结果，ttl 决定记录的最长存活时间。
func (s *Store) PutStar(record StarRecord, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}

	now := time.Now()
	if record.ComputedAt.IsZero() {
		record.ComputedAt = now
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO star_cache
		(wiki, page, head_sha, login, user_id, score, commits, additions, deletions, computed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Wiki, record.Page, record.HeadSHA, record.Login, record.UserID,
		record.Score, record.Commits, record.Additions, record.Deletions,
		record.ComputedAt.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("写入星级缓存失败: %w", err)
	}
	return nil
}

// PurgeExpired 删除所有过期行，返回删除数，供清扫循环周期调用。
func (s *Store) PurgeExpired() (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	result, err := s.db.Exec("DELETE FROM star_cache WHERE expires_at < ?", time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("清理过期行失败: %w", err)
	}
	return result.RowsAffected()
}
