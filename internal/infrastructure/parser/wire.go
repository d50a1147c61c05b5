package parser

import "github.com/google/wire"

// ProviderSet 解析基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	NewRegistry,
	NewChunker,
)
