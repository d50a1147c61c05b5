package application

import (
	"github.com/google/wire"

	"github.com/foldex/backend/internal/application/pipeline"
	"github.com/foldex/backend/internal/application/search"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	pipeline.ProviderSet,
	search.ProviderSet,
)
