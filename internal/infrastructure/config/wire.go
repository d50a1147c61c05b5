package config

import "github.com/google/wire"

// ProvideConfig 创建应用配置并叠加用户配置文件的覆盖项
func ProvideConfig(manager *Manager) (*Config, error) {
	cfg := NewConfig()
	uc, err := manager.Load()
	if err != nil {
		return nil, err
	}
	uc.Apply(cfg)
	return cfg, nil
}

// ProviderSet 配置基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	NewManager,
	ProvideConfig,
	NewDatabaseConfig,
	NewServerConfig,
	NewPipelineConfig,
	NewEmbeddingConfig,
	NewQdrantConfig,
	NewWatchConfig,
)
