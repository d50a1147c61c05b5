package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/interfaces/http/handler"
	"github.com/foldex/backend/internal/interfaces/http/middleware"
	"github.com/foldex/backend/internal/interfaces/mcp"

	_ "github.com/foldex/backend/docs" // Swagger docs
)

// HTTPServer HTTP 服务器
type HTTPServer struct {
	router    *gin.Engine
	httpPort  string
	server    *http.Server
	wsHandler *handler.ProgressWSHandler
	logger    *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	cfg *config.Config,
	indexHandler *handler.IndexHandler,
	folderHandler *handler.FolderHandler,
	searchHandler *handler.SearchHandler,
	progressWSHandler *handler.ProgressWSHandler,
	mcpServer *mcp.MCPServer,
) *HTTPServer {
	router := gin.Default()
	router.Use(middleware.EnsureUTF8Body())

	logger := log.NewModuleLogger("http", "server")

	// 注册路由
	api := router.Group("/api/v1")
	{
		api.GET("/index/progress", indexHandler.Progress)
		api.GET("/index/status", indexHandler.Status)
		api.POST("/reindex", indexHandler.Reindex)

		// 文件夹管理
		api.GET("/folders", folderHandler.List)
		api.POST("/folders", folderHandler.Add)
		api.DELETE("/folders", folderHandler.Remove)

		// 语义搜索
		api.POST("/search", searchHandler.Search)
	}

	// 进度推送
	router.GET("/ws/progress", progressWSHandler.Serve)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// MCP SSE 端点
	if mcpServer != nil {
		router.Any("/mcp/sse", gin.WrapH(mcpServer.GetHandler()))
	}

	return &HTTPServer{
		router:    router,
		httpPort:  cfg.Server.HTTPPort,
		wsHandler: progressWSHandler,
		logger:    logger,
	}
}

// Start 启动服务器
func (s *HTTPServer) Start() error {
	s.wsHandler.Start()

	s.server = &http.Server{
		Addr:    s.httpPort,
		Handler: s.router,
	}

	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
