package handler

import "github.com/google/wire"

// ProviderSet Handler ProviderSet
var ProviderSet = wire.NewSet(
	NewIndexHandler,
	NewFolderHandler,
	NewSearchHandler,
	NewProgressWSHandler,
)
