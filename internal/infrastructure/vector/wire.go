package vector

import "github.com/google/wire"

// ProviderSet 向量存储基础设施的依赖提供者集合
var ProviderSet = wire.NewSet(
	NewManager,
	NewQdrantStore,
	wire.Bind(new(PointStore), new(*QdrantStore)),
	NewWriter,
)
