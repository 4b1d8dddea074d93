package api

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/session"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *session.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *session.Service) *Handler {
	return &Handler{svc: svc}
}

// entryParam resolves the {idx} URL parameter against the current list.
func (h *Handler) entryParam(w http.ResponseWriter, r *http.Request) (*models.Entry, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("idx must be an integer"))
		return nil, false
	}
	e, err := h.svc.Entry(idx)
	if err != nil {
		writeError(w, "get entry", err)
		return nil, false
	}
	return e, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// repoOrDefault returns id, or the default repository's id when empty.
func (h *Handler) repoOrDefault(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	repo, err := h.svc.DefaultRepo()
	if err != nil {
		return "", err
	}
	return repo.ID(), nil
}

// ListRepos handles GET /api/repos.
//
//	@Summary		List configured repositories
//	@Tags			repos
//	@Produce		json
//	@Success		200	{array}	models.Repo
//	@Security		BearerAuth
//	@Router			/repos [get]
func (h *Handler) ListRepos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"repos": h.svc.Repos()})
}

// VerifyRepos handles POST /api/repos/verify.
//
//	@Summary		Check that every enabled repository is reachable
//	@Tags			repos
//	@Produce		json
//	@Success		200	{array}	models.Repo
//	@Security		BearerAuth
//	@Router			/repos/verify [post]
func (h *Handler) VerifyRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"repos": h.svc.VerifyRepos(r.Context())})
}

// Reload handles POST /api/reload.
//
//	@Summary		Fetch all repositories and discard unstaged edits
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	session.ReloadReport
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListEntries handles GET /api/entries.
//
//	@Summary		List entries, optionally filtered
//	@Tags			entries
//	@Produce		json
//	@Param			q		query		string	false	"Filter terms"
//	@Param			kind	query		string	false	"Entry kind"	Enums(note, document, link)
//	@Success		200		{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/entries [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries := h.svc.Entries(q.Get("q"))
	if k := q.Get("kind"); k != "" {
		kind, ok := models.ParseKind(k)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody("unknown kind "+k))
			return
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Kind() == kind {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: listItems(entries), Total: len(entries)})
}

// GetEntry handles GET /api/entries/{idx}.
//
//	@Summary		Get a single entry
//	@Tags			entries
//	@Produce		json
//	@Param			idx	path		int	true	"Entry index"
//	@Success		200	{object}	EntryDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{idx} [get]
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entryParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, entryDetail(e))
}

// CreateNote handles POST /api/entries/notes.
//
//	@Summary		Stage a new note
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	EntryDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	repo, err := h.repoOrDefault(req.Repo)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	e, err := h.svc.CreateNote(session.NewNote{
		Repo:     repo,
		Location: req.Location,
		Title:    req.Title,
		Text:     req.Text,
		Labels:   req.Labels,
	})
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, entryDetail(e))
}

// CreateLink handles POST /api/entries/links.
//
//	@Summary		Stage a standalone link
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateLinkRequest	true	"Link to add"
//	@Success		201		{object}	EntryDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/links [post]
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	repo, err := h.repoOrDefault(req.Repo)
	if err != nil {
		writeError(w, "create link", err)
		return
	}
	e, err := h.svc.AddLink(session.NewLink{
		Repo:   repo,
		Title:  req.Title,
		Target: req.Target,
		Labels: req.Labels,
	})
	if err != nil {
		writeError(w, "create link", err)
		return
	}
	writeJSON(w, http.StatusCreated, entryDetail(e))
}

// UpdateEntry handles PATCH /api/entries/{idx}.
//
//	@Summary		Change text, labels, title or location of an entry
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			idx			path		int					true	"Entry index"
//	@Param			If-Match	header		string				false	"Checksum of the current note text"
//	@Param			body		body		UpdateEntryRequest	true	"Fields to change"
//	@Success		200			{object}	EntryDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{idx} [patch]
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entryParam(w, r)
	if !ok {
		return
	}
	var req UpdateEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if e.Kind() == models.KindLink {
		if req.Text != nil || req.Location != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("links have no text or location"))
			return
		}
		upd := session.LinkUpdate{Title: req.Title, Standalone: req.Standalone, Repo: req.Repo}
		if req.Labels != nil {
			upd.Labels = append([]string{}, *req.Labels...)
		}
		updated, err := h.svc.UpdateLink(e.Key, upd)
		if err != nil {
			writeError(w, "update link", err)
			return
		}
		writeJSON(w, http.StatusOK, entryDetail(updated))
		return
	}
	if req.Standalone != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("standalone applies to links only"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	key := e.Key
	updated := e
	var err error
	if req.Text != nil {
		if updated, err = h.svc.UpdateText(key, *req.Text, ifMatch); err != nil {
			writeError(w, "update text", err)
			return
		}
	}
	if req.Labels != nil {
		if updated, err = h.svc.SetLabels(key, *req.Labels); err != nil {
			writeError(w, "set labels", err)
			return
		}
	}
	if req.Title != nil || req.Location != nil {
		info, _ := updated.File()
		title, location := updated.Title, info.Location
		if req.Title != nil {
			title = *req.Title
		}
		if req.Location != nil {
			location = *req.Location
		}
		if updated, err = h.svc.Move(key, location, title); err != nil {
			writeError(w, "move entry", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, entryDetail(updated))
}

// DeleteEntry handles DELETE /api/entries/{idx}.
//
//	@Summary		Stage the removal of an entry
//	@Tags			entries
//	@Param			idx	path	int	true	"Entry index"
//	@Success		204	"Entry deleted"
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{idx} [delete]
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entryParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(e.Key); err != nil {
		writeError(w, "delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPosition handles GET /api/entries/{idx}/position.
//
//	@Summary		Get the last viewed position of an entry
//	@Tags			entries
//	@Produce		json
//	@Param			idx	path		int	true	"Entry index"
//	@Success		200	{object}	PositionResponse
//	@Security		BearerAuth
//	@Router			/entries/{idx}/position [get]
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entryParam(w, r)
	if !ok {
		return
	}
	pos, known := h.svc.Positions().Get(e.Key)
	writeJSON(w, http.StatusOK, PositionResponse{Key: e.Key, Position: pos, Known: known})
}

// SetPosition handles PUT /api/entries/{idx}/position.
//
//	@Summary		Remember the viewed position of an entry
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			idx		path		int				true	"Entry index"
//	@Param			body	body		PositionRequest	true	"Position"
//	@Success		200		{object}	PositionResponse
//	@Security		BearerAuth
//	@Router			/entries/{idx}/position [put]
func (h *Handler) SetPosition(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entryParam(w, r)
	if !ok {
		return
	}
	var req PositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Position < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("position must not be negative"))
		return
	}
	h.svc.Positions().Set(e.Key, req.Position)
	writeJSON(w, http.StatusOK, PositionResponse{Key: e.Key, Position: req.Position, Known: true})
}

// Staged handles GET /api/staged.
//
//	@Summary		List staged operations per repository
//	@Tags			session
//	@Produce		json
//	@Success		200	{array}	StagedRepo
//	@Security		BearerAuth
//	@Router			/staged [get]
func (h *Handler) Staged(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"repos": stagedRepos(h.svc.Staged())})
}

// Commit handles POST /api/commit.
//
//	@Summary		Commit the staged operations, one commit per repository
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CommitRequest	false	"Commit message"
//	@Success		200		{array}		session.CommitResult
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/commit [post]
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	results, err := h.svc.Commit(r.Context(), req.Message)
	if err != nil {
		writeError(w, "commit", err)
		return
	}
	status := http.StatusOK
	for _, res := range results {
		if !res.OK() {
			status = http.StatusMultiStatus
		}
	}
	writeJSON(w, status, map[string]any{"results": results})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across entries
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{Key: res.Key, Kind: res.Kind, Title: res.Title, Snippet: res.Snippet}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}

// Raw handles GET /api/raw/{owner}/{name}/*, serving the edited content of
// a repository file.
func (h *Handler) Raw(w http.ResponseWriter, r *http.Request) {
	repoID := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	p := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	// Supports encoded slashes from clients (e.g. journal%2Fnote.md).
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	f, err := h.svc.File(repoID, p)
	if err != nil {
		writeError(w, "raw file", err)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if f.SHA != "" {
		w.Header().Set("ETag", `"`+f.SHA+`"`)
	}
	http.ServeContent(w, r, path.Base(p), time.Time{}, strings.NewReader(f.Content))
}
