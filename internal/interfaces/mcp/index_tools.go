package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/foldex/backend/internal/application/search"
)

// SearchDocumentsInput 文档搜索工具输入
type SearchDocumentsInput struct {
	Query   string   `json:"query" jsonschema:"Search query - describe what you're looking for in natural language (required)"`
	Folders []string `json:"folders,omitempty" jsonschema:"Watched folders to restrict the search to (optional, defaults to all)"`
	Limit   int      `json:"limit,omitempty" jsonschema:"Maximum number of results to return, defaults to 5, max 10"`
}

// SearchDocumentsOutput 文档搜索工具输出
type SearchDocumentsOutput struct {
	Results    []*DocumentResult `json:"results" jsonschema:"List of relevant document chunks"`
	TotalCount int               `json:"total_count" jsonschema:"Total number of results found"`
}

// DocumentResult 文档搜索结果（精简版，只包含对 AI 有用的信息）
type DocumentResult struct {
	FilePath  string `json:"file_path" jsonschema:"Full path of the source file"`
	Page      int64  `json:"page,omitempty" jsonschema:"Page number within the file (PDF only)"`
	Text      string `json:"text" jsonschema:"Matching text chunk"`
	Relevance string `json:"relevance" jsonschema:"Relevance level: high/medium/low"`
}

// searchDocumentsTool 文档搜索工具实现
func (s *MCPServer) searchDocumentsTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	output := SearchDocumentsOutput{
		Results: []*DocumentResult{},
	}

	if input.Query == "" {
		return nil, output, fmt.Errorf("query is required")
	}

	// 默认 5 个，最多 10 个，避免上下文过载
	limit := input.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit > 10 {
		limit = 10
	}

	results, err := s.searchService.Search(ctx, &search.Request{
		Query:   input.Query,
		Folders: input.Folders,
		Limit:   limit,
	})
	if err != nil {
		return nil, output, fmt.Errorf("search failed: %w", err)
	}

	output.Results = make([]*DocumentResult, 0, len(results))
	for _, r := range results {
		output.Results = append(output.Results, &DocumentResult{
			FilePath:  r.FilePath,
			Page:      r.Page,
			Text:      truncateText(r.Text, 500),
			Relevance: scoreToRelevance(r.Score),
		})
	}
	output.TotalCount = len(output.Results)

	// 返回 nil，SDK 会自动序列化 output
	return nil, output, nil
}

// IndexStatusInput 索引状态工具输入（空输入）
type IndexStatusInput struct{}

// IndexStatusOutput 索引状态工具输出
type IndexStatusOutput struct {
	Folders      []*FolderStatus `json:"folders" jsonschema:"Per-folder indexing status"`
	QueuedFiles  int             `json:"queued_files" jsonschema:"Files waiting to be processed"`
	QueuedChunks int             `json:"queued_chunks" jsonschema:"Chunks waiting for embedding"`
	FailedFiles  int             `json:"failed_files" jsonschema:"Files that failed to index"`
}

// FolderStatus 单个文件夹的索引状态
type FolderStatus struct {
	Path    string `json:"path" jsonschema:"Folder path"`
	Total   int    `json:"total" jsonschema:"Total files eligible for indexing"`
	Indexed int    `json:"indexed" jsonschema:"Files already indexed"`
}

// getIndexStatusTool 索引状态工具实现
func (s *MCPServer) getIndexStatusTool(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	progress := s.pipeline.Progress()

	output := IndexStatusOutput{
		Folders:      make([]*FolderStatus, 0, len(progress.Folders)),
		QueuedFiles:  progress.Files.Queued,
		QueuedChunks: progress.Embedding.QueueDepth,
		FailedFiles:  progress.Files.Failed,
	}

	for path, stats := range progress.Folders {
		output.Folders = append(output.Folders, &FolderStatus{
			Path:    path,
			Total:   stats.Total,
			Indexed: stats.Indexed,
		})
	}

	return nil, output, nil
}

// truncateText 截断文本到指定长度
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	// 找到最后一个空格，避免截断单词
	truncated := text[:maxLen]
	for i := len(truncated) - 1; i >= maxLen-20; i-- {
		if truncated[i] == ' ' {
			return truncated[:i] + "..."
		}
	}
	return truncated + "..."
}

// scoreToRelevance 将分数转换为相关性等级
func scoreToRelevance(score float32) string {
	if score >= 0.7 {
		return "high"
	}
	if score >= 0.4 {
		return "medium"
	}
	return "low"
}
