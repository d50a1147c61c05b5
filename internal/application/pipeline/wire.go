package pipeline

import (
	"github.com/google/wire"

	"github.com/foldex/backend/internal/infrastructure/embedding"
	"github.com/foldex/backend/internal/infrastructure/parser"
	"github.com/foldex/backend/internal/infrastructure/vector"
)

// ProviderSet 索引管道的依赖提供者集合
var ProviderSet = wire.NewSet(
	NewPlanner,
	wire.Bind(new(ParserVersions), new(*parser.Registry)),
	NewFileQueue,
	NewBatchQueue,
	wire.Bind(new(Embedder), new(*embedding.Client)),
	NewFolderRemovalManager,
	wire.Bind(new(VectorWriter), new(*vector.Writer)),
	NewService,
)
