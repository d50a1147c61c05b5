package handler

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/infrastructure/websocket"
)

const progressPushInterval = time.Second

// ProgressWSHandler 索引进度 WebSocket 推送处理器
type ProgressWSHandler struct {
	hub      *websocket.Hub
	pipeline *pipeline.Service
	upgrader gorillaws.Upgrader
	logger   *slog.Logger
}

// NewProgressWSHandler 创建进度推送处理器
func NewProgressWSHandler(hub *websocket.Hub, pipelineService *pipeline.Service) *ProgressWSHandler {
	return &ProgressWSHandler{
		hub:      hub,
		pipeline: pipelineService,
		upgrader: gorillaws.Upgrader{
			// 本地守护进程，仅监听回环地址
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.NewModuleLogger("http", "progress_ws"),
	}
}

// Start 启动 Hub 和周期推送循环
func (h *ProgressWSHandler) Start() {
	h.hub.Start()
	go h.pushLoop()
}

// pushLoop 有客户端连接时周期推送进度快照
func (h *ProgressWSHandler) pushLoop() {
	ticker := time.NewTicker(progressPushInterval)
	defer ticker.Stop()

	for range ticker.C {
		if h.hub.ClientCount() == 0 {
			continue
		}
		if err := h.hub.Broadcast(h.pipeline.Progress()); err != nil {
			h.logger.Warn("failed to broadcast progress", "error", err)
		}
	}
}

// Serve 处理 WebSocket 升级请求
// GET /ws/progress
func (h *ProgressWSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &websocket.Connection{Send: make(chan []byte, 16)}
	h.hub.Register(client)

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

// writePump 将推送队列写入连接
func (h *ProgressWSHandler) writePump(conn *gorillaws.Conn, client *websocket.Connection) {
	defer conn.Close()
	for data := range client.Send {
		if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
			h.hub.Unregister(client)
			return
		}
	}
}

// readPump 只消费控制帧，检测客户端断开
func (h *ProgressWSHandler) readPump(conn *gorillaws.Conn, client *websocket.Connection) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.hub.Unregister(client)
			return
		}
	}
}
