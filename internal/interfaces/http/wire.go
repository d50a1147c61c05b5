package http

import (
	"github.com/google/wire"

	"github.com/foldex/backend/internal/infrastructure/websocket"
	"github.com/foldex/backend/internal/interfaces/http/handler"
)

// ProviderSet HTTP 接口层 ProviderSet
var ProviderSet = wire.NewSet(
	websocket.NewHub,
	handler.ProviderSet,
	NewServer,
)
