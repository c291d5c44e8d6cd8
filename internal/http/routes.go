package http

import (
	"log/slog"

	"github.com/opensensor/lightnvr/internal/catalog"
	"github.com/opensensor/lightnvr/internal/http/handlers"
	"github.com/opensensor/lightnvr/internal/lifecycle"
)

// RegisterRoutes wires the stream, recording, and system health handlers
// onto srv's huma API and raw chi router.
func RegisterRoutes(srv *Server, mgr *lifecycle.Manager, store *catalog.Store, storageRoot, version string, logger *slog.Logger) {
	streams := handlers.NewStreamHandler(mgr, store, logger)
	recordings := handlers.NewRecordingHandler(store, logger)
	system := handlers.NewSystemHandler(version, storageRoot, store, logger)

	streams.Register(srv.API())
	recordings.Register(srv.API())
	system.Register(srv.API())
	recordings.RegisterRawRoutes(srv.Router())
}
