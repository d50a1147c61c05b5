package embedding

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/foldex/backend/internal/infrastructure/config"
	applog "github.com/foldex/backend/internal/infrastructure/log"
)

// 在包初始化时设置离线加载器
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenEstimator token 估算器接口
// 批次预算以估算值为准，不要求与后端真实计数一致
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// HeuristicEstimator 字符数启发式估算器
// tokens ≈ chars / 2.5，是批次预算的默认口径
type HeuristicEstimator struct{}

// EstimateTokens 实现 TokenEstimator 接口
func (HeuristicEstimator) EstimateTokens(text string) int {
	return int(float64(utf8.RuneCountInString(text)) / 2.5)
}

// TiktokenEstimator 使用 tiktoken 精确估算 token 数量
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// tiktokenInstance 单例实例
var (
	tiktokenInstance *TiktokenEstimator
	tiktokenOnce     sync.Once
	tiktokenErr      error
)

// GetTiktokenEstimator 获取 TiktokenEstimator 单例
// 使用单例模式避免重复加载编码文件
func GetTiktokenEstimator() (*TiktokenEstimator, error) {
	tiktokenOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tiktokenErr = err
			return
		}
		tiktokenInstance = &TiktokenEstimator{
			encoding: enc,
		}
	})

	if tiktokenErr != nil {
		return nil, tiktokenErr
	}
	return tiktokenInstance, nil
}

// EstimateTokens 实现 TokenEstimator 接口
func (e *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	tokens := e.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// NewTokenEstimator 按配置选择估算器
// tiktoken 加载失败时回退到启发式
func NewTokenEstimator(cfg *config.EmbeddingConfig) TokenEstimator {
	if cfg.UseTiktoken {
		est, err := GetTiktokenEstimator()
		if err == nil {
			return est
		}
		applog.NewModuleLogger("embedding", "tokens").Warn(
			"Failed to load tiktoken encoding, falling back to heuristic",
			"error", err,
		)
	}
	return HeuristicEstimator{}
}
