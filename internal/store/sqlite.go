package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"isin-controls/internal/config"
)

const memoryDSN = ":memory:"

// Store 持有运行事件库的连接。
type Store struct {
	db *sql.DB
}

// NewSQLite 打开事件库。内存库只存在于单个连接中，连接池固定为 1 且连接不过期。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	path := memoryDSN
	if cfg.InMemory {
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	} else {
		path = cfg.Path
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据库目录 %q 失败: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("打开事件库失败: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	for _, pragma := range pragmas(cfg.InMemory) {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}

	return &Store{db: conn}, nil
}

// 内存库不支持 WAL。
func pragmas(inMemory bool) []string {
	if inMemory {
		return []string{"PRAGMA synchronous=NORMAL;"}
	}
	return []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"}
}

// DB 返回底层连接，供事件服务建表与读写。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
