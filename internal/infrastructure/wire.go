package infrastructure

import (
	"github.com/google/wire"

	"github.com/foldex/backend/internal/infrastructure/config"
	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/parser"
	"github.com/foldex/backend/internal/infrastructure/storage"
	"github.com/foldex/backend/internal/infrastructure/vector"
	"github.com/foldex/backend/internal/infrastructure/watcher"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	embedding.ProviderSet,
	parser.ProviderSet,
	vector.ProviderSet,
	watcher.ProviderSet,
)
