package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/starford/gitmarks/internal/session"
)

const maxUploadBytes = 50 << 20 // 50 MB

// safeName validates that the filename is a plain name (no path separators,
// no traversal).
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return path.Clean(name), nil
}

// UploadDocument handles POST /api/entries/documents (multipart/form-data,
// field "file", optional "repo", "location" and repeated "labels").
//
//	@Summary		Stage an uploaded document
//	@Tags			entries
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Document"
//	@Param			repo		formData	string	false	"Repository id"
//	@Param			location	formData	string	false	"Folder"
//	@Success		201			{object}	DocumentUploadResponse
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/documents [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, err := safeName(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	repo, err := h.repoOrDefault(r.FormValue("repo"))
	if err != nil {
		writeError(w, "upload document", err)
		return
	}
	e, err := h.svc.CreateDocument(session.NewDocument{
		Repo:     repo,
		Location: r.FormValue("location"),
		Filename: name,
		Data:     data,
		Labels:   r.MultipartForm.Value["labels"],
	})
	if err != nil {
		writeError(w, "upload document", err)
		return
	}

	writeJSON(w, http.StatusCreated, DocumentUploadResponse{
		Entry: entryDetail(e),
		Size:  int64(len(data)),
	})
}
