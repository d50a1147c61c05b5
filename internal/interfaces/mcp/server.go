package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/application/search"
)

// MCPServer MCP 服务器
type MCPServer struct {
	server        *mcp.Server
	handler       http.Handler
	pipeline      *pipeline.Service
	searchService *search.Service
}

// NewServer 创建 MCP 服务器
func NewServer(
	pipelineService *pipeline.Service,
	searchService *search.Service,
) *MCPServer {
	// 创建 MCP 服务器实例
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "foldex-daemon",
			Version: "0.1.0",
		},
		nil, // 使用默认能力
	)

	// 创建服务器实例（用于闭包捕获依赖）
	mcpServer := &MCPServer{
		server:        server,
		pipeline:      pipelineService,
		searchService: searchService,
	}

	// 注册工具：search_documents
	mcp.AddTool(server, &mcp.Tool{
		Name: "search_documents",
		Description: `Semantically search the user's indexed local documents.

Use this tool when you need to:
- Find passages in the user's local files relevant to a question
- Look up facts, notes, or documentation the user keeps on disk
- Retrieve context from PDFs, Markdown, or text files in watched folders

Parameters:
- query (string, required): Natural language description of what you're looking for.
- folders (array of strings, optional): Restrict the search to these watched folders.
- limit (int, optional): Maximum number of results to return (1-10, default: 5)

Returns: List of matching text chunks with file path, page, and relevance.`,
	}, mcpServer.searchDocumentsTool)

	// 注册工具：get_index_status
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get the current status of the document index: watched folders, per-folder progress, and queue depths. No parameters required.",
	}, mcpServer.getIndexStatusTool)

	// 创建 SSE Handler
	handler := mcp.NewSSEHandler(
		func(r *http.Request) *mcp.Server {
			// 每个请求返回同一个服务器实例
			return server
		},
		nil, // SSEOptions，使用默认值
	)

	mcpServer.handler = handler
	return mcpServer
}

// GetHandler 获取 HTTP Handler（用于集成到 HTTP 服务器）
func (s *MCPServer) GetHandler() http.Handler {
	return s.handler
}

// Start 启动服务器（HTTP/SSE 模式）
// MCP 服务器通过 HTTP Handler 提供服务，由 HTTP 服务器统一管理生命周期
func (s *MCPServer) Start() error {
	return nil
}

// Stop 停止服务器
func (s *MCPServer) Stop() error {
	return nil
}
