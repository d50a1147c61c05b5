package wire

import (
	"fmt"

	"log/slog"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/domain/events"
	"github.com/foldex/backend/internal/infrastructure/embedding"
	applog "github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/storage"
	"github.com/foldex/backend/internal/infrastructure/vector"
	"github.com/foldex/backend/internal/infrastructure/watcher"
	"github.com/foldex/backend/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer *interfaces.HTTPServer
	MCPServer  *interfaces.MCPServer

	pipeline        *pipeline.Service
	fileWatcher     *watcher.FileWatcher
	eventBus        events.EventBus
	vectorManager   *vector.Manager
	supervisor      *embedding.Supervisor
	embeddingClient *embedding.Client
	db              *storage.DB
	logger          *slog.Logger
}

// NewApp 创建应用实例
func NewApp(
	httpServer *interfaces.HTTPServer,
	mcpServer *interfaces.MCPServer,
	pipelineService *pipeline.Service,
	fileWatcher *watcher.FileWatcher,
	eventBus events.EventBus,
	vectorManager *vector.Manager,
	supervisor *embedding.Supervisor,
	embeddingClient *embedding.Client,
	db *storage.DB,
) *App {
	return &App{
		HTTPServer:      httpServer,
		MCPServer:       mcpServer,
		pipeline:        pipelineService,
		fileWatcher:     fileWatcher,
		eventBus:        eventBus,
		vectorManager:   vectorManager,
		supervisor:      supervisor,
		embeddingClient: embeddingClient,
		db:              db,
		logger:          applog.NewModuleLogger("app", "main"),
	}
}

// Start 启动所有服务
// 启动顺序：向量库 → 向量化后端 → 集合就绪 → 管道 → 文件监听 → HTTP
func (a *App) Start() error {
	a.logger.Info("Starting Foldex backend application")

	if err := a.vectorManager.Start(); err != nil {
		return fmt.Errorf("failed to start qdrant: %w", err)
	}

	if err := a.supervisor.Start(); err != nil {
		return fmt.Errorf("failed to start embedding backend: %w", err)
	}

	if err := a.ensureCollection(); err != nil {
		return err
	}

	if err := a.pipeline.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	if err := a.fileWatcher.Start(a.pipeline.Folders()); err != nil {
		a.logger.Error("Failed to start file watcher", "error", err)
	}

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Start(); err != nil {
			a.logger.Error("Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	a.logger.Info("Foldex backend application started successfully")

	// MCP 服务器通过 HTTP Handler 提供服务，不需要单独启动
	// 已在 HTTP 服务器中注册 /mcp/sse 端点

	return nil
}

// ensureCollection 按向量化后端的实际维度准备集合。
// sqlite 在启动时因 schema 升级被清空的话，向量集合必须一并重建，
// 否则状态库认为一切未索引而集合里还留着旧点。
func (a *App) ensureCollection() error {
	dimension, err := a.embeddingClient.GetVectorDimension()
	if err != nil {
		return fmt.Errorf("failed to probe vector dimension: %w", err)
	}

	if a.db.Wiped {
		a.logger.Warn("status database was wiped, recreating vector collection")
		if err := a.vectorManager.RecreateCollection(uint64(dimension)); err != nil {
			return fmt.Errorf("failed to recreate collection: %w", err)
		}
		return nil
	}

	if err := a.vectorManager.EnsureCollection(uint64(dimension)); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	return nil
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping Foldex backend application")

	// 停止文件监听器，不再接收新事件
	if a.fileWatcher != nil {
		a.fileWatcher.Stop()
		a.logger.Info("File watcher stopped")
	}

	// 排空索引管道
	if a.pipeline != nil {
		a.pipeline.Shutdown()
		a.logger.Info("Pipeline stopped")
	}

	// 停止向量化后端
	if a.supervisor != nil {
		if err := a.supervisor.Shutdown(); err != nil {
			a.logger.Error("Failed to stop embedding backend",
				"error", err,
			)
		}
	}

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server",
			"error", err,
		)
	}
	if err := a.MCPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop MCP server",
			"error", err,
		)
	}

	// 停止 Qdrant
	if a.vectorManager != nil {
		if err := a.vectorManager.Stop(); err != nil {
			a.logger.Error("Failed to stop qdrant",
				"error", err,
			)
		}
	}

	// 关闭事件总线
	if a.eventBus != nil {
		a.eventBus.Close()
		a.logger.Info("Event bus closed")
	}

	// 关闭数据库连接
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database connection",
				"error", err,
			)
			return err
		}
	}

	a.logger.Info("Foldex backend application stopped successfully")

	return nil
}
