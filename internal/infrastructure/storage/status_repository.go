package storage

import (
	"database/sql"
	"fmt"
	"strings"

	domainIndex "github.com/foldex/backend/internal/domain/index"
)

// 确保 StatusRepositoryImpl 实现了 domainIndex.FileStatusRepository 接口
var _ domainIndex.FileStatusRepository = (*StatusRepositoryImpl)(nil)

// StatusRepositoryImpl 文件状态仓库实现
type StatusRepositoryImpl struct {
	db *sql.DB
}

// NewStatusRepository 创建文件状态仓库实例
func NewStatusRepository(db *DB) domainIndex.FileStatusRepository {
	return &StatusRepositoryImpl{db: db.Conn}
}

// SaveFileStatus 覆盖保存状态记录
// 先删后插，保证每次尝试整体覆盖，从不部分更新
func (r *StatusRepositoryImpl) SaveFileStatus(record *domainIndex.FileStatusRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM file_status WHERE file_path = ?", record.FilePath); err != nil {
		return fmt.Errorf("failed to delete old record: %w", err)
	}

	insertSQL := `
		INSERT INTO file_status (
			file_path, status, parser_version, chunk_count,
			error_message, file_hash, last_modified, indexed_at, last_retry
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.Exec(
		insertSQL,
		record.FilePath,
		string(record.Status),
		record.ParserVersion,
		record.ChunkCount,
		record.ErrorMessage,
		record.FileHash,
		record.LastModified,
		record.IndexedAt,
		record.LastRetry,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return tx.Commit()
}

// GetFileStatus 按路径查询状态记录
func (r *StatusRepositoryImpl) GetFileStatus(filePath string) (*domainIndex.FileStatusRecord, error) {
	query := `
		SELECT file_path, status, parser_version, chunk_count,
		       error_message, file_hash, last_modified, indexed_at, last_retry
		FROM file_status
		WHERE file_path = ?`

	record, err := scanRecord(r.db.QueryRow(query, filePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// GetAllFileStatus 返回全部状态记录
func (r *StatusRepositoryImpl) GetAllFileStatus() ([]*domainIndex.FileStatusRecord, error) {
	query := `
		SELECT file_path, status, parser_version, chunk_count,
		       error_message, file_hash, last_modified, indexed_at, last_retry
		FROM file_status
		ORDER BY file_path`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domainIndex.FileStatusRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}

	return results, rows.Err()
}

// DeleteFileStatus 删除单条记录
func (r *StatusRepositoryImpl) DeleteFileStatus(filePath string) error {
	_, err := r.db.Exec("DELETE FROM file_status WHERE file_path = ?", filePath)
	return err
}

// DeleteByFolder 删除文件夹下的所有记录
// 前缀匹配带目录分隔符，/docs 不会误删 /docs2 下的记录
func (r *StatusRepositoryImpl) DeleteByFolder(folder string) error {
	prefix := strings.TrimSuffix(folder, "/") + "/"
	_, err := r.db.Exec(
		"DELETE FROM file_status WHERE file_path LIKE ? ESCAPE '\\'",
		escapeLike(prefix)+"%",
	)
	return err
}

// ClearAll 清空状态表
func (r *StatusRepositoryImpl) ClearAll() error {
	_, err := r.db.Exec("DELETE FROM file_status")
	return err
}

// scanner 统一 QueryRow 和 Rows 的扫描入口
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord 扫描单条状态记录
func scanRecord(s scanner) (*domainIndex.FileStatusRecord, error) {
	var record domainIndex.FileStatusRecord
	var status string
	err := s.Scan(
		&record.FilePath,
		&status,
		&record.ParserVersion,
		&record.ChunkCount,
		&record.ErrorMessage,
		&record.FileHash,
		&record.LastModified,
		&record.IndexedAt,
		&record.LastRetry,
	)
	if err != nil {
		return nil, err
	}
	record.Status = domainIndex.FileStatus(status)
	return &record, nil
}

// escapeLike 转义 LIKE 模式中的通配符
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
