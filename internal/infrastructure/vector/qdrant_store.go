package vector

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/log"
)

// QdrantStore 基于 Qdrant 的 PointStore 实现
type QdrantStore struct {
	manager *Manager
	logger  *slog.Logger
}

// NewQdrantStore 创建 Qdrant 点存储
func NewQdrantStore(manager *Manager) *QdrantStore {
	return &QdrantStore{
		manager: manager,
		logger:  log.NewModuleLogger("vector", "store"),
	}
}

// Upsert 写入一批点，同一 ID 重复写入覆盖旧值
func (s *QdrantStore) Upsert(ctx context.Context, points []PointRecord) error {
	client := s.manager.GetClient()
	if client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	qp := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		vectorArgs := make([]float32, len(p.Vector))
		copy(vectorArgs, p.Vector)

		qp[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.FilePath, p.Page, p.Offset)),
			Vectors: qdrant.NewVectors(vectorArgs...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"file_path":  sanitizePayload(p.FilePath),
				"folder":     sanitizePayload(p.Folder),
				"page":       int64(p.Page),
				"offset":     int64(p.Offset),
				"text":       sanitizePayload(p.Text),
				"indexed_at": p.IndexedAt,
			}),
		}
	}

	wait := true
	_, err := client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.manager.Collection(),
		Points:         qp,
		Wait:           &wait,
	})
	return classifyStoreError(err)
}

// DeleteByPath 删除某个文件的全部点
func (s *QdrantStore) DeleteByPath(ctx context.Context, filePath string) error {
	return s.deleteByField(ctx, "file_path", filePath)
}

// DeleteByFolder 删除某个文件夹下的全部点。
// 点在写入时带有所属文件夹的精确 payload，按 keyword 匹配即可，
// 不会误删同名前缀的兄弟文件夹。
func (s *QdrantStore) DeleteByFolder(ctx context.Context, folder string) error {
	return s.deleteByField(ctx, "folder", folder)
}

func (s *QdrantStore) deleteByField(ctx context.Context, field, value string) error {
	client := s.manager.GetClient()
	if client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	wait := true
	_, err := client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.manager.Collection(),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(field, value),
					},
				},
			},
		},
		Wait: &wait,
	})
	return classifyStoreError(err)
}

// Count 返回集合中的点数
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	client := s.manager.GetClient()
	if client == nil {
		return 0, fmt.Errorf("qdrant client not initialized")
	}

	count, err := client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.manager.Collection(),
	})
	if err != nil {
		return 0, classifyStoreError(err)
	}
	return count, nil
}

// EnsurePayloadIndexes 为过滤字段创建 payload 索引
func (s *QdrantStore) EnsurePayloadIndexes(ctx context.Context) error {
	client := s.manager.GetClient()
	if client == nil {
		return fmt.Errorf("qdrant client not initialized")
	}

	for _, field := range []string{"file_path", "folder"} {
		fieldType := qdrant.FieldType_FieldTypeKeyword
		_, err := client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.manager.Collection(),
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if err != nil {
			return classifyStoreError(err)
		}
	}
	return nil
}

// classifyStoreError 把存储引擎错误包装为带冲突标记的存储错误
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	conflict := strings.Contains(msg, "conflict") || strings.Contains(msg, "aborted")
	return &index.StorageError{Err: err, Conflict: conflict}
}

// sanitizePayload 清理无效 UTF-8，Qdrant 要求 payload 字符串是有效 UTF-8
func sanitizePayload(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
