package handler

import (
	"net/http"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/interfaces/http/response"
)

// IndexHandler 索引管道处理器
type IndexHandler struct {
	pipeline *pipeline.Service
	logger   *slog.Logger
}

// NewIndexHandler 创建索引处理器
func NewIndexHandler(pipelineService *pipeline.Service) *IndexHandler {
	return &IndexHandler{
		pipeline: pipelineService,
		logger:   log.NewModuleLogger("http", "index_handler"),
	}
}

// Progress 获取索引进度快照
// @Summary 获取索引进度快照
// @Tags 索引
// @Produce json
// @Success 200 {object} response.Response{data=pipeline.ProgressSnapshot}
// @Router /index/progress [get]
func (h *IndexHandler) Progress(c *gin.Context) {
	response.Success(c, h.pipeline.Progress())
}

// Status 获取全部文件的索引状态
// @Summary 获取全部文件的索引状态
// @Tags 索引
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.ErrorResponse
// @Router /index/status [get]
func (h *IndexHandler) Status(c *gin.Context) {
	records, err := h.pipeline.FileStatuses()
	if err != nil {
		h.logger.Error("failed to load file statuses", "error", err)
		response.Error(c, http.StatusInternalServerError, 100001, "failed to load file statuses: "+err.Error())
		return
	}
	response.Success(c, records)
}

// Reindex 触发全量重建索引
// @Summary 触发全量重建索引
// @Tags 索引
// @Produce json
// @Success 200 {object} response.Response
// @Failure 500 {object} response.ErrorResponse
// @Router /reindex [post]
func (h *IndexHandler) Reindex(c *gin.Context) {
	if err := h.pipeline.ForceReindex(c.Request.Context()); err != nil {
		h.logger.Error("force reindex failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 100002, "reindex failed: "+err.Error())
		return
	}
	response.Success(c, gin.H{"started": true})
}
