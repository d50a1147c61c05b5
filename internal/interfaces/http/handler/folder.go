package handler

import (
	"net/http"
	"os"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/interfaces/http/response"
)

// FolderHandler 受监控文件夹管理处理器
type FolderHandler struct {
	pipeline *pipeline.Service
	logger   *slog.Logger
}

// NewFolderHandler 创建文件夹处理器
func NewFolderHandler(pipelineService *pipeline.Service) *FolderHandler {
	return &FolderHandler{
		pipeline: pipelineService,
		logger:   log.NewModuleLogger("http", "folder_handler"),
	}
}

// FolderRequest 文件夹请求
type FolderRequest struct {
	Path string `json:"path" binding:"required"`
}

// List 列出受监控文件夹
// @Summary 列出受监控文件夹
// @Tags 文件夹
// @Produce json
// @Success 200 {object} response.Response{data=[]string}
// @Router /folders [get]
func (h *FolderHandler) List(c *gin.Context) {
	response.Success(c, h.pipeline.Folders())
}

// Add 添加受监控文件夹
// @Summary 添加受监控文件夹
// @Tags 文件夹
// @Accept json
// @Produce json
// @Param request body FolderRequest true "文件夹路径"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /folders [post]
func (h *FolderHandler) Add(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100101, "invalid request: "+err.Error())
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		response.Error(c, http.StatusBadRequest, 100102, "path is not an existing directory")
		return
	}

	if err := h.pipeline.AddFolder(req.Path); err != nil {
		h.logger.Error("failed to add folder", "path", req.Path, "error", err)
		response.Error(c, http.StatusInternalServerError, 100103, "failed to add folder: "+err.Error())
		return
	}
	response.Success(c, gin.H{"path": req.Path})
}

// Remove 移除受监控文件夹及其全部索引数据
// @Summary 移除受监控文件夹及其全部索引数据
// @Tags 文件夹
// @Accept json
// @Produce json
// @Param request body FolderRequest true "文件夹路径"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /folders [delete]
func (h *FolderHandler) Remove(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100104, "invalid request: "+err.Error())
		return
	}

	if err := h.pipeline.RemoveFolder(req.Path); err != nil {
		h.logger.Error("failed to remove folder", "path", req.Path, "error", err)
		response.Error(c, http.StatusInternalServerError, 100105, "failed to remove folder: "+err.Error())
		return
	}
	response.Success(c, gin.H{"path": req.Path})
}
