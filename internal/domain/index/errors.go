package index

import (
	"errors"
	"fmt"
)

// ErrSourceMissing 文件在管道处理中途消失
// 视为删除而不是失败
var ErrSourceMissing = errors.New("source file missing")

// ParseError 单文件解析错误
// 记录为 failed/error 状态，从不中断管道
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// EmptyContentError 提取结果为空（零切片）
type EmptyContentError struct {
	Path string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("no content extracted from %s", e.Path)
}

// EmbeddingError 向量化错误
// Transient 为 true 时按客户端重试策略处理，false 时直接令所属批次失败
type EmbeddingError struct {
	Err       error
	Transient bool
}

func (e *EmbeddingError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient embedding error: %v", e.Err)
	}
	return fmt.Sprintf("embedding error: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// StorageError 存储引擎写入错误
// Conflict 为 true 时由 Write Serializer 重试一次
type StorageError struct {
	Err      error
	Conflict bool
}

func (e *StorageError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("storage write conflict: %v", e.Err)
	}
	return fmt.Sprintf("storage error: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransientEmbedding 判断错误是否为可重试的向量化错误
func IsTransientEmbedding(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee) && ee.Transient
}

// IsStorageConflict 判断错误是否为可重试一次的写冲突
func IsStorageConflict(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Conflict
}
