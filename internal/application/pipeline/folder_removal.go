package pipeline

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/vector"
)

// VectorWriter 写串行器的最小接口。
// 管道的所有存储变更都必须经过它，别的组件不允许直接写存储引擎。
type VectorWriter interface {
	UpsertChunks(ctx context.Context, points []vector.PointRecord) error
	DeleteByPath(ctx context.Context, filePath string) error
	DeleteByFolder(ctx context.Context, folder string) error
	Drain(ctx context.Context) error
	QueueDepth() int
}

// FolderRemovalManager 把受监控文件夹集合的变化归整为缓存和存储删除
type FolderRemovalManager struct {
	repo   index.FileStatusRepository
	writer VectorWriter
	logger *slog.Logger
}

// NewFolderRemovalManager 创建文件夹移除管理器
func NewFolderRemovalManager(repo index.FileStatusRepository, writer VectorWriter) *FolderRemovalManager {
	return &FolderRemovalManager{
		repo:   repo,
		writer: writer,
		logger: log.NewModuleLogger("pipeline", "folder_removal"),
	}
}

// DetectRemoved 返回旧集合中存在、新列表中缺失的文件夹
func DetectRemoved(previous map[string]*index.FolderStats, current []string) []string {
	watched := make(map[string]bool, len(current))
	for _, f := range current {
		watched[f] = true
	}

	var removed []string
	for folder := range previous {
		if !watched[folder] {
			removed = append(removed, folder)
		}
	}
	return removed
}

// RemoveFolder 清理一个被取消监控的文件夹：
// 清掉内存签名缓存、删除向量行、删除状态记录。
// 前缀匹配带边界，/docs 的移除绝不影响 /docs2/ 下的文件。
func (m *FolderRemovalManager) RemoveFolder(ctx context.Context, folder string, cache *FileHashCache) error {
	purged := cache.PurgeFolder(folder)

	if err := m.writer.DeleteByFolder(ctx, folder); err != nil {
		return fmt.Errorf("failed to delete vector rows for %s: %w", folder, err)
	}

	if err := m.repo.DeleteByFolder(folder); err != nil {
		return fmt.Errorf("failed to delete status records for %s: %w", folder, err)
	}

	m.logger.Info("folder removed", "folder", folder, "cached_paths_purged", len(purged))
	return nil
}

// RemoveFile 清理单个已消失的文件：向量行、状态记录、签名缓存
func (m *FolderRemovalManager) RemoveFile(ctx context.Context, path string, cache *FileHashCache) error {
	if err := m.writer.DeleteByPath(ctx, path); err != nil {
		return fmt.Errorf("failed to delete vector rows for %s: %w", path, err)
	}
	if err := m.repo.DeleteFileStatus(path); err != nil {
		return fmt.Errorf("failed to delete status record for %s: %w", path, err)
	}
	cache.Delete(path)
	return nil
}
