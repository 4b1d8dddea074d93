package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/gitmarks/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *session.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Repositories.
	r.Get("/repos", h.ListRepos)
	r.Post("/repos/verify", h.VerifyRepos)

	// Session.
	r.Post("/reload", h.Reload)
	r.Get("/staged", h.Staged)
	r.Post("/commit", h.Commit)

	// Entries.
	r.Get("/entries", h.ListEntries)
	r.Post("/entries/notes", h.CreateNote)
	r.Post("/entries/documents", h.UploadDocument)
	r.Post("/entries/links", h.CreateLink)
	r.Get("/entries/{idx}", h.GetEntry)
	r.Patch("/entries/{idx}", h.UpdateEntry)
	r.Delete("/entries/{idx}", h.DeleteEntry)
	r.Get("/entries/{idx}/position", h.GetPosition)
	r.Put("/entries/{idx}/position", h.SetPosition)

	// Search.
	r.Get("/search", h.Search)

	// File content as referenced by entry raw URLs.
	r.Get("/raw/{owner}/{name}/*", h.Raw)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
