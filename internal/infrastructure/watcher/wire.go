package watcher

import (
	"github.com/google/wire"

	"github.com/foldex/backend/internal/domain/events"
	"github.com/foldex/backend/internal/infrastructure/config"
)

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() events.EventBus {
	return NewEventBus()
}

// ProvideFileWatcher 提供文件监听器实例
func ProvideFileWatcher(cfg *config.Config, eventBus events.EventBus) (*FileWatcher, error) {
	return NewFileWatcher(&cfg.Watch, &cfg.Pipeline, eventBus)
}

// ProviderSet watcher 模块的依赖注入提供者集合
var ProviderSet = wire.NewSet(
	ProvideEventBus,
	ProvideFileWatcher,
	NewScanMetadata,
)
