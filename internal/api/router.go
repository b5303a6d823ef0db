package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Agentic query.
	r.Post("/query", h.Query)
	r.Post("/query/stream", h.QueryStream)

	// Deterministic strategy search.
	r.Get("/search", h.Search)

	// Link graph.
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)
	r.Get("/tags/{tag}", h.NotesByTag)
	r.Get("/graph", h.Graph)

	// Document chunks.
	r.Post("/chunks", h.PutChunk)
	r.Delete("/chunks", h.DeleteDoc)

	// Health.
	r.Get("/health", h.Health)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
