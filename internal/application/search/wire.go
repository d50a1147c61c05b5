package search

import "github.com/google/wire"

// ProviderSet search 模块的依赖注入提供者集合
var ProviderSet = wire.NewSet(
	NewService,
)
