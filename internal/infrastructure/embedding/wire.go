package embedding

import "github.com/google/wire"

// ProviderSet Embedding 基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	NewClient,
	NewRemoteBackend,
	wire.Bind(new(BackendProcess), new(*RemoteBackend)),
	NewSupervisor,
	NewTokenEstimator,
)
