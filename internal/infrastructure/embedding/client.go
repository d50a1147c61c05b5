// Package embedding 封装对外部 Embedding 后端的串行访问
package embedding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	domainIndex "github.com/foldex/backend/internal/domain/index"
	"github.com/foldex/backend/internal/infrastructure/config"
	applog "github.com/foldex/backend/internal/infrastructure/log"
)

// Client Embedding API 客户端
// 串行化约束：同一后端实例任一时刻最多一个在途请求。
// 后端要么是内存敏感的本地运行时，要么是事实上单线程的服务，
// 并发请求会显著降低吞吐甚至压垮后端
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger

	// requestMu 串行请求队列：上一个请求结束前下一个不会开始，
	// 出错时随 defer 立即释放，单次失败不会永久卡死队列
	requestMu sync.Mutex
}

// NewClient 创建 Embedding 客户端
func NewClient(cfg *config.EmbeddingConfig) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: applog.NewModuleLogger("embedding", "client"),
	}
}

// buildEmbeddingURL 构建 Embedding API URL
// 支持多种输入格式，智能拼接 /v1/embeddings 路径
func buildEmbeddingURL(baseURL string) string {
	if strings.Contains(baseURL, "/v1/embeddings") {
		return baseURL
	}
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL + "/embeddings"
	}
	if strings.HasSuffix(baseURL, "/v1/") {
		return baseURL + "embeddings"
	}
	return fmt.Sprintf("%s/v1/embeddings", baseURL)
}

// EmbeddingRequest Embedding 请求
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// InputType 查询/文档提示，部分模型要求区分
	InputType string `json:"input_type,omitempty"`
}

// EmbeddingResponse Embedding 响应
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedTexts 批量向量化文本
// isQuery 为 true 表示检索查询，false 表示入库文档
func (c *Client) EmbedTexts(texts []string, isQuery bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &domainIndex.EmbeddingError{
			Err: errors.New("texts cannot be empty"),
		}
	}

	// 串行化：排队等待上一个请求结束
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	return c.embedSerialized(texts, isQuery)
}

// embedSerialized 持锁状态下的请求 + 重试循环
func (c *Client) embedSerialized(texts []string, isQuery bool) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避：1s, 2s, 4s, ...
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			c.logger.Warn("Retrying embedding request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff,
				"error", lastErr,
			)
			time.Sleep(backoff)
		}

		vectors, err := c.doRequest(texts, isQuery)
		if err == nil {
			return vectors, nil
		}

		if !domainIndex.IsTransientEmbedding(err) {
			// 4xx 等致命错误从不重试
			return nil, err
		}
		lastErr = err
	}

	c.logger.Error("Embedding request failed after all retries",
		"max_retries", c.maxRetries,
		"error", lastErr,
	)
	return nil, lastErr
}

// doRequest 执行单次请求并按失败模式分类错误
func (c *Client) doRequest(texts []string, isQuery bool) ([][]float32, error) {
	reqBody := EmbeddingRequest{
		Model: c.model,
		Input: texts,
	}
	if isQuery {
		reqBody.InputType = "query"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &domainIndex.EmbeddingError{
			Err: fmt.Errorf("failed to marshal request: %w", err),
		}
	}

	url := buildEmbeddingURL(c.baseURL)

	c.logger.Debug("Sending embedding request",
		"url", url,
		"batch_size", len(texts),
		"model", c.model,
		"api_key", maskAPIKey(c.apiKey),
	)

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &domainIndex.EmbeddingError{
			Err: fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 连接拒绝/重置/超时都是瞬态错误
		return nil, &domainIndex.EmbeddingError{
			Err:       fmt.Errorf("failed to send request: %w", err),
			Transient: isNetworkTransient(err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		embErr := &domainIndex.EmbeddingError{
			Err:       fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body)),
			Transient: resp.StatusCode >= 500,
		}
		c.logger.Error("API returned error",
			"status_code", resp.StatusCode,
			"transient", embErr.Transient,
		)
		return nil, embErr
	}

	var embeddingResp EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		// 响应截断按瞬态处理
		return nil, &domainIndex.EmbeddingError{
			Err:       fmt.Errorf("failed to decode response: %w", err),
			Transient: true,
		}
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, &domainIndex.EmbeddingError{
			Err: fmt.Errorf("expected %d vectors, got %d",
				len(texts), len(embeddingResp.Data)),
			Transient: true,
		}
	}

	vectors := make([][]float32, len(embeddingResp.Data))
	for _, data := range embeddingResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, &domainIndex.EmbeddingError{
				Err: fmt.Errorf("vector index %d out of range", data.Index),
			}
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

// isNetworkTransient 判断网络层错误是否可重试
func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

// maskAPIKey API Key 脱敏
func maskAPIKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}

// GetVectorDimension 获取向量维度（通过测试请求）
func (c *Client) GetVectorDimension() (int, error) {
	vectors, err := c.EmbedTexts([]string{"test"}, false)
	if err != nil {
		return 0, err
	}

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("invalid embedding response")
	}

	return len(vectors[0]), nil
}

// TestConnection 测试连接
func (c *Client) TestConnection() error {
	c.logger.Info("Testing embedding API connection",
		"base_url", c.baseURL,
		"model", c.model,
	)

	dimension, err := c.GetVectorDimension()
	if err != nil {
		c.logger.Error("Embedding API connection test failed", "error", err)
		return err
	}

	c.logger.Info("Embedding API connection test successful",
		"vector_dimension", dimension,
	)

	return nil
}
