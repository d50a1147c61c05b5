package config

import (
	"path/filepath"
	"time"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Embedding EmbeddingConfig
	Qdrant    QdrantConfig
	Watch     WatchConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort string // 固定端口，用于单例锁
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string
}

// PipelineConfig 索引管道配置
// 数值阈值全部是配置而非常量，方便按机器调优
type PipelineConfig struct {
	// FileTypes 启用的文件扩展名（含点，小写）
	FileTypes map[string]bool
	// ExcludePatterns 排除的路径片段（包含匹配）
	ExcludePatterns []string

	// MaxConcurrentFiles 同时解析/切片的文件数上限（额定值）
	MaxConcurrentFiles int
	// ThrottledConcurrentFiles 内存压力下降级后的上限
	ThrottledConcurrentFiles int
	// MemoryThresholdMB 触发降级的常驻内存阈值
	MemoryThresholdMB int
	// DispatchTick 文件队列调度循环的固定节拍
	DispatchTick time.Duration

	// MaxQueueSize 向量化队列的切片容量上限
	MaxQueueSize int
	// BatchSize 单批切片数量上限
	BatchSize int
	// MaxTokensPerBatch 单批估算 token 上限
	MaxTokensPerBatch int
	// BackpressureThreshold 触发背压的队列深度
	BackpressureThreshold int

	// RetryInterval 失败文件的自动重试间隔
	RetryInterval time.Duration
	// RescanInterval 常驻运行期间的周期性重扫间隔，到期的失败文件借此自动重试
	RescanInterval time.Duration

	// ChunkSize 切片目标长度（字符）
	ChunkSize int
	// ChunkOverlap 相邻切片重叠长度（字符）
	ChunkOverlap int
}

// EmbeddingConfig Embedding 后端配置
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// MaxRetries 瞬态错误的最大重试次数
	MaxRetries int
	// RequestTimeout 单次请求超时
	RequestTimeout time.Duration

	// MaxFilesBeforeRestart 处理多少文件后重启后端进程
	MaxFilesBeforeRestart int
	// MemoryThresholdMB 后端常驻内存超过该值时重启
	MemoryThresholdMB int

	// UseTiktoken 使用 tiktoken 精确估算 token（默认用 chars/2.5 启发式）
	UseTiktoken bool
}

// QdrantConfig 嵌入式 Qdrant 配置
type QdrantConfig struct {
	// BinaryPath 自带二进制的覆盖路径。留空时使用数据目录下的安装位置，缺失自动下载
	BinaryPath string
	DataPath   string
	GRPCPort   int
	HTTPPort   int
	// Collection 向量集合名
	Collection string
	// IndexThreshold 行数超过该值后构建 payload 索引（尽力而为）
	IndexThreshold int
}

// WatchConfig 文件监控配置
type WatchConfig struct {
	// DebounceDelay 防抖延迟
	DebounceDelay time.Duration
	// FullScanThreshold 距上次扫描超过此时间则执行全量扫描
	FullScanThreshold time.Duration
}

// NewConfig 创建配置（默认值）
func NewConfig() *Config {
	dataDir := GetDataDir()

	return &Config{
		Server: ServerConfig{
			HTTPPort: ":19770",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "foldex.db"),
		},
		Pipeline: PipelineConfig{
			FileTypes: map[string]bool{
				".txt":      true,
				".md":       true,
				".markdown": true,
				".pdf":      true,
			},
			ExcludePatterns:          []string{"node_modules", ".git", ".Trash"},
			MaxConcurrentFiles:       4,
			ThrottledConcurrentFiles: 1,
			MemoryThresholdMB:        1024,
			DispatchTick:             100 * time.Millisecond,
			MaxQueueSize:             2000,
			BatchSize:                32,
			MaxTokensPerBatch:        8000,
			BackpressureThreshold:    500,
			RetryInterval:            24 * time.Hour,
			RescanInterval:           1 * time.Hour,
			ChunkSize:                1200,
			ChunkOverlap:             200,
		},
		Embedding: EmbeddingConfig{
			BaseURL:               "http://localhost:11434/v1",
			Model:                 "nomic-embed-text",
			MaxRetries:            4,
			RequestTimeout:        60 * time.Second,
			MaxFilesBeforeRestart: 5000,
			MemoryThresholdMB:     2048,
		},
		Qdrant: QdrantConfig{
			BinaryPath:     "",
			DataPath:       filepath.Join(dataDir, "qdrant", "storage"),
			GRPCPort:       6334,
			HTTPPort:       6333,
			Collection:     "foldex_chunks",
			IndexThreshold: 10000,
		},
		Watch: WatchConfig{
			DebounceDelay:     500 * time.Millisecond,
			FullScanThreshold: 24 * time.Hour,
		},
	}
}

// NewDatabaseConfig 创建数据库配置
func NewDatabaseConfig(cfg *Config) *DatabaseConfig {
	return &cfg.Database
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}

// NewPipelineConfig 创建管道配置
func NewPipelineConfig(cfg *Config) *PipelineConfig {
	return &cfg.Pipeline
}

// NewEmbeddingConfig 创建 Embedding 配置
func NewEmbeddingConfig(cfg *Config) *EmbeddingConfig {
	return &cfg.Embedding
}

// NewQdrantConfig 创建 Qdrant 配置
func NewQdrantConfig(cfg *Config) *QdrantConfig {
	return &cfg.Qdrant
}

// NewWatchConfig 创建监控配置
func NewWatchConfig(cfg *Config) *WatchConfig {
	return &cfg.Watch
}
