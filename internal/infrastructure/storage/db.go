// Package storage 提供基于 SQLite 的状态持久化
// 状态表与向量表（Qdrant）完全分离，状态数据可由源文件完全重建
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/foldex/backend/internal/infrastructure/config"
	applog "github.com/foldex/backend/internal/infrastructure/log"
)

// SchemaVersion 当前存储 schema 版本
// 与持久化的版本标记不一致时整体清空重建，而不是原地迁移
// （向量数据可由源文件完全推导，重建是可接受的）
const SchemaVersion = "2"

// DB 数据库句柄
// Wiped 表示启动时因 schema 版本不匹配发生了全量清空，
// 调用方需要同步重建向量集合
type DB struct {
	Conn  *sql.DB
	Wiped bool
}

// NewDB 打开数据库并初始化表结构
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	wiped, err := InitDatabase(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{Conn: conn, Wiped: wiped}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.Conn.Close()
}

// OpenDB 打开数据库连接
func OpenDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		dbPath = filepath.Join(config.GetDataDir(), "foldex.db")
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitDatabase 初始化表结构并校验 schema 版本
// 返回 wiped=true 表示发生了全量清空，调用方需要同步清空向量集合
func InitDatabase(db *sql.DB) (wiped bool, err error) {
	logger := applog.NewModuleLogger("storage", "db")

	if err := createTables(db); err != nil {
		return false, err
	}

	stored, err := getMetaValue(db, "schema_version")
	if err != nil {
		return false, err
	}

	if stored != "" && stored != SchemaVersion {
		logger.Warn("Schema version mismatch, wiping store",
			"stored", stored,
			"expected", SchemaVersion,
		)
		if err := wipeTables(db); err != nil {
			return false, err
		}
		wiped = true
	}

	if err := setMetaValue(db, "schema_version", SchemaVersion); err != nil {
		return wiped, err
	}

	return wiped, nil
}

// createTables 创建状态表和元数据表
func createTables(db *sql.DB) error {
	createStatusSQL := `
	CREATE TABLE IF NOT EXISTS file_status (
		file_path      TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		parser_version INTEGER NOT NULL DEFAULT 0,
		chunk_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT NOT NULL DEFAULT '',
		file_hash      TEXT NOT NULL DEFAULT '',
		last_modified  INTEGER NOT NULL DEFAULT 0,
		indexed_at     INTEGER NOT NULL DEFAULT 0,
		last_retry     INTEGER NOT NULL DEFAULT 0
	);`

	if _, err := db.Exec(createStatusSQL); err != nil {
		return fmt.Errorf("failed to create file_status table: %w", err)
	}

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_file_status_status ON file_status(status);`

	if _, err := db.Exec(createIndexSQL); err != nil {
		return fmt.Errorf("failed to create file_status index: %w", err)
	}

	createMetaSQL := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := db.Exec(createMetaSQL); err != nil {
		return fmt.Errorf("failed to create store_meta table: %w", err)
	}

	return nil
}

// wipeTables 清空状态数据（保留表结构）
func wipeTables(db *sql.DB) error {
	if _, err := db.Exec("DELETE FROM file_status"); err != nil {
		return fmt.Errorf("failed to wipe file_status: %w", err)
	}
	if _, err := db.Exec("DELETE FROM store_meta"); err != nil {
		return fmt.Errorf("failed to wipe store_meta: %w", err)
	}
	return nil
}

// getMetaValue 读取元数据值，不存在时返回空串
func getMetaValue(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM store_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read store_meta: %w", err)
	}
	return value, nil
}

// setMetaValue 写入元数据值
func setMetaValue(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write store_meta: %w", err)
	}
	return nil
}
