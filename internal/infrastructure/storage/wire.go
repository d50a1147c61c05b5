package storage

import "github.com/google/wire"

// ProviderSet 存储基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	NewDB,
	NewStatusRepository,
)
