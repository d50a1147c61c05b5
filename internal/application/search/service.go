package search

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/vector"
)

// Service 语义搜索服务
type Service struct {
	embeddingClient *embedding.Client
	manager         *vector.Manager
	logger          *slog.Logger
}

// NewService 创建搜索服务
func NewService(embeddingClient *embedding.Client, manager *vector.Manager) *Service {
	return &Service{
		embeddingClient: embeddingClient,
		manager:         manager,
		logger:          log.NewModuleLogger("search", "service"),
	}
}

// Request 搜索请求
type Request struct {
	Query   string   `json:"query"`
	Folders []string `json:"folders,omitempty"` // 文件夹过滤（空则搜索所有文件夹）
	Limit   int      `json:"limit"`             // 返回结果数量
}

// Result 单条搜索结果
type Result struct {
	FilePath  string  `json:"file_path"`
	Folder    string  `json:"folder"`
	Page      int64   `json:"page"`
	Offset    int64   `json:"offset"`
	Text      string  `json:"text"`
	Score     float32 `json:"score"`
	IndexedAt string  `json:"indexed_at,omitempty"`
}

// Search 语义搜索已索引的文档切片
func (s *Service) Search(ctx context.Context, req *Request) ([]*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	s.logger.Info("starting search", "limit", req.Limit, "folders", req.Folders)

	queryVectors, err := s.embeddingClient.EmbedTexts([]string{req.Query}, true)
	if err != nil {
		s.logger.Error("failed to embed query", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVectors) == 0 || len(queryVectors[0]) == 0 {
		return nil, fmt.Errorf("invalid embedding result")
	}

	client := s.manager.GetClient()
	if client == nil {
		return nil, fmt.Errorf("qdrant client not initialized")
	}

	limit := uint64(req.Limit)
	hits, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.manager.Collection(),
		Query:          qdrant.NewQuery(queryVectors[0]...),
		Limit:          &limit,
		Filter:         buildFolderFilter(req.Folders),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		s.logger.Error("failed to query qdrant", "error", err)
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		if result := hitToResult(hit); result != nil {
			results = append(results, result)
		}
	}

	s.logger.Info("search completed", "results_count", len(results))
	return results, nil
}

// buildFolderFilter 构建文件夹过滤条件
func buildFolderFilter(folders []string) *qdrant.Filter {
	if len(folders) == 0 {
		return nil
	}

	if len(folders) == 1 {
		return &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("folder", folders[0]),
			},
		}
	}

	conditions := make([]*qdrant.Condition, len(folders))
	for i, folder := range folders {
		conditions[i] = qdrant.NewMatch("folder", folder)
	}
	return &qdrant.Filter{Should: conditions}
}

// hitToResult 将向量命中转换为搜索结果
func hitToResult(hit *qdrant.ScoredPoint) *Result {
	payload := hit.GetPayload()
	if payload == nil {
		return nil
	}

	result := &Result{Score: hit.GetScore()}

	if val, ok := payload["file_path"]; ok {
		result.FilePath = extractStringValue(val)
	}
	if val, ok := payload["folder"]; ok {
		result.Folder = extractStringValue(val)
	}
	if val, ok := payload["page"]; ok {
		result.Page = extractIntValue(val)
	}
	if val, ok := payload["offset"]; ok {
		result.Offset = extractIntValue(val)
	}
	if val, ok := payload["text"]; ok {
		result.Text = extractStringValue(val)
	}
	if val, ok := payload["indexed_at"]; ok {
		result.IndexedAt = extractStringValue(val)
	}

	if result.FilePath == "" {
		return nil
	}
	return result
}

// extractStringValue 从 qdrant.Value 提取字符串值
func extractStringValue(val *qdrant.Value) string {
	if val == nil {
		return ""
	}
	return val.GetStringValue()
}

// extractIntValue 从 qdrant.Value 提取整数值
func extractIntValue(val *qdrant.Value) int64 {
	if val == nil {
		return 0
	}
	if intVal := val.GetIntegerValue(); intVal != 0 {
		return intVal
	}
	if dblVal := val.GetDoubleValue(); dblVal != 0 {
		return int64(dblVal)
	}
	return 0
}
