package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// UserConfig 用户配置文件结构
// 持久化在 ~/.foldex/config.yaml，由桌面端或 CLI 修改
type UserConfig struct {
	// Folders 受监控文件夹列表（绝对路径）
	Folders []string `yaml:"folders"`

	// FileTypes 启用的扩展名（覆盖默认值，留空使用默认）
	FileTypes []string `yaml:"file_types,omitempty"`

	// Exclude 排除的路径片段
	Exclude []string `yaml:"exclude,omitempty"`

	// Embedding Embedding 后端设置
	Embedding struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		Model       string `yaml:"model"`
		UseTiktoken bool   `yaml:"use_tiktoken"`
	} `yaml:"embedding"`

	// Pipeline 管道调优参数（零值表示使用默认）
	Pipeline struct {
		MaxConcurrentFiles    int `yaml:"max_concurrent_files"`
		BatchSize             int `yaml:"batch_size"`
		MaxTokensPerBatch     int `yaml:"max_tokens_per_batch"`
		MaxQueueSize          int `yaml:"max_queue_size"`
		BackpressureThreshold int `yaml:"backpressure_threshold"`
		MemoryThresholdMB     int `yaml:"memory_threshold_mb"`
		RetryIntervalHours    int `yaml:"retry_interval_hours"`
		RescanIntervalMinutes int `yaml:"rescan_interval_minutes"`
	} `yaml:"pipeline"`
}

// Manager 用户配置管理器
type Manager struct {
	configPath string
	mu         sync.Mutex
}

// NewManager 创建用户配置管理器
func NewManager() *Manager {
	return &Manager{
		configPath: filepath.Join(GetDataDir(), "config.yaml"),
	}
}

// Load 读取用户配置
// 文件不存在时返回空配置而不是错误
func (m *Manager) Load() (*UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return &UserConfig{}, nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var uc UserConfig
	if err := yaml.Unmarshal(data, &uc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &uc, nil
}

// Save 写入用户配置
func (m *Manager) Save(uc *UserConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(uc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Apply 将用户配置叠加到应用配置上
// 零值字段保留默认值
func (uc *UserConfig) Apply(cfg *Config) {
	if len(uc.FileTypes) > 0 {
		types := make(map[string]bool, len(uc.FileTypes))
		for _, ext := range uc.FileTypes {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			types[strings.ToLower(ext)] = true
		}
		cfg.Pipeline.FileTypes = types
	}
	if len(uc.Exclude) > 0 {
		cfg.Pipeline.ExcludePatterns = uc.Exclude
	}

	if uc.Embedding.BaseURL != "" {
		cfg.Embedding.BaseURL = uc.Embedding.BaseURL
	}
	if uc.Embedding.APIKey != "" {
		cfg.Embedding.APIKey = uc.Embedding.APIKey
	}
	if uc.Embedding.Model != "" {
		cfg.Embedding.Model = uc.Embedding.Model
	}
	cfg.Embedding.UseTiktoken = uc.Embedding.UseTiktoken

	p := uc.Pipeline
	if p.MaxConcurrentFiles > 0 {
		cfg.Pipeline.MaxConcurrentFiles = p.MaxConcurrentFiles
	}
	if p.BatchSize > 0 {
		cfg.Pipeline.BatchSize = p.BatchSize
	}
	if p.MaxTokensPerBatch > 0 {
		cfg.Pipeline.MaxTokensPerBatch = p.MaxTokensPerBatch
	}
	if p.MaxQueueSize > 0 {
		cfg.Pipeline.MaxQueueSize = p.MaxQueueSize
	}
	if p.BackpressureThreshold > 0 {
		cfg.Pipeline.BackpressureThreshold = p.BackpressureThreshold
	}
	if p.MemoryThresholdMB > 0 {
		cfg.Pipeline.MemoryThresholdMB = p.MemoryThresholdMB
	}
	if p.RetryIntervalHours > 0 {
		cfg.Pipeline.RetryInterval = time.Duration(p.RetryIntervalHours) * time.Hour
	}
	if p.RescanIntervalMinutes > 0 {
		cfg.Pipeline.RescanInterval = time.Duration(p.RescanIntervalMinutes) * time.Minute
	}
}
