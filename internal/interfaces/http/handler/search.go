package handler

import (
	"net/http"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/foldex/backend/internal/application/search"
	"github.com/foldex/backend/internal/infrastructure/log"
	"github.com/foldex/backend/internal/interfaces/http/response"
)

// SearchHandler 语义搜索处理器
type SearchHandler struct {
	searchService *search.Service
	logger        *slog.Logger
}

// NewSearchHandler 创建搜索处理器
func NewSearchHandler(searchService *search.Service) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		logger:        log.NewModuleLogger("http", "search_handler"),
	}
}

// SearchRequest 搜索请求
type SearchRequest struct {
	Query   string   `json:"query" binding:"required"`
	Folders []string `json:"folders,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Search 语义搜索已索引的文档
// @Summary 语义搜索已索引的文档
// @Tags 搜索
// @Accept json
// @Produce json
// @Param request body SearchRequest true "搜索请求"
// @Success 200 {object} response.Response{data=[]search.Result}
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /search [post]
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100201, "invalid request: "+err.Error())
		return
	}

	results, err := h.searchService.Search(c.Request.Context(), &search.Request{
		Query:   req.Query,
		Folders: req.Folders,
		Limit:   req.Limit,
	})
	if err != nil {
		h.logger.Error("search failed", "error", err)
		response.Error(c, http.StatusInternalServerError, 100202, "search failed: "+err.Error())
		return
	}
	response.Success(c, results)
}
