package api

import (
	"sort"
	"time"

	"github.com/starford/gitmarks/internal/checksum"
	"github.com/starford/gitmarks/internal/gitdiff"
	"github.com/starford/gitmarks/internal/models"
)

// CreateNoteRequest is the request body for creating a note. An empty Repo
// selects the default repository.
type CreateNoteRequest struct {
	Repo     string   `json:"repo" example:"alice/notes"`
	Location string   `json:"location" example:"journal"`
	Title    string   `json:"title" example:"Hello" validate:"required"`
	Text     string   `json:"text" example:"# Hello\nWorld"`
	Labels   []string `json:"labels" example:"work,ideas"`
}

// CreateLinkRequest is the request body for adding a standalone link.
type CreateLinkRequest struct {
	Repo   string   `json:"repo" example:"alice/notes"`
	Title  string   `json:"title" example:"Go"`
	Target string   `json:"target" example:"https://go.dev" validate:"required"`
	Labels []string `json:"labels" example:"lang"`
}

// UpdateEntryRequest is the request body for PATCH /entries/{idx}. Absent
// fields are left unchanged. Text applies to notes only; Standalone and Repo
// to links only.
type UpdateEntryRequest struct {
	Text       *string   `json:"text,omitempty"`
	Labels     *[]string `json:"labels,omitempty"`
	Title      *string   `json:"title,omitempty"`
	Location   *string   `json:"location,omitempty"`
	Standalone *bool     `json:"standalone,omitempty"`
	Repo       string    `json:"repo,omitempty"`
}

// PositionRequest is the body of PUT /entries/{idx}/position.
type PositionRequest struct {
	Position int `json:"position" example:"120"`
}

// PositionResponse reports the stored position of an entry.
type PositionResponse struct {
	Key      string `json:"key"`
	Position int    `json:"position"`
	Known    bool   `json:"known"`
}

// CommitRequest is the body of POST /commit.
type CommitRequest struct {
	Message string `json:"message" example:"Update notes"`
}

// EntryListItem is a lightweight item in a list response.
type EntryListItem struct {
	Idx      int      `json:"idx" example:"0"`
	Key      string   `json:"key" example:"alice/notes:journal/Hello.md"`
	Kind     string   `json:"kind" example:"note"`
	Title    string   `json:"title" example:"Hello"`
	Labels   []string `json:"labels"`
	Priority int      `json:"priority"`
}

// EntryListResponse wraps entry listings.
type EntryListResponse struct {
	Entries []EntryListItem `json:"entries" validate:"required"`
	Total   int             `json:"total" example:"42" validate:"required"`
}

// EntryDetail is the full entry response. Fields not applicable to the
// entry kind are omitted.
type EntryDetail struct {
	EntryListItem
	Repo         string     `json:"repo,omitempty"`
	Location     string     `json:"location,omitempty"`
	Extension    string     `json:"extension,omitempty"`
	Path         string     `json:"path,omitempty"`
	RawURL       string     `json:"raw_url,omitempty"`
	TimeCreated  *time.Time `json:"time_created,omitempty"`
	TimeUpdated  *time.Time `json:"time_updated,omitempty"`
	Text         *string    `json:"text,omitempty"`
	HTML         string     `json:"html,omitempty"`
	Checksum     string     `json:"checksum,omitempty"`
	Links        []string   `json:"links,omitempty"`
	Target       string     `json:"target,omitempty"`
	ReferencedBy []string   `json:"referenced_by,omitempty"`
	RefRepos     []string   `json:"ref_repos,omitempty"`
	RefLocations []string   `json:"ref_locations,omitempty"`
	OwnLabels    []string   `json:"own_labels,omitempty"`
	Standalone   string     `json:"standalone_repo,omitempty"`
}

// StagedOp is one staged file operation.
type StagedOp struct {
	Op   string `json:"op" example:"write"`
	Path string `json:"path,omitempty" example:"journal/Hello.md"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// StagedRepo lists the staged operations of one repository.
type StagedRepo struct {
	Repo string     `json:"repo"`
	Ops  []StagedOp `json:"ops"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Key     string `json:"key" example:"alice/notes:journal/Hello.md" validate:"required"`
	Kind    string `json:"kind" example:"note" validate:"required"`
	Title   string `json:"title" example:"Hello" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..."`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// DocumentUploadResponse is returned after a successful document upload.
type DocumentUploadResponse struct {
	Entry EntryDetail `json:"entry"`
	Size  int64       `json:"size" example:"12345"`
}

func listItem(e *models.Entry) EntryListItem {
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	return EntryListItem{
		Idx:      e.Idx,
		Key:      e.Key,
		Kind:     e.Kind().String(),
		Title:    e.Title,
		Labels:   labels,
		Priority: e.Priority,
	}
}

func listItems(entries []*models.Entry) []EntryListItem {
	out := make([]EntryListItem, len(entries))
	for i, e := range entries {
		out[i] = listItem(e)
	}
	return out
}

func fileDetail(d *EntryDetail, f *models.FileInfo, path string) {
	d.Repo = f.Repo.ID()
	d.Location = f.Location
	d.Extension = f.Extension
	d.Path = path
	d.RawURL = f.RawURL
	created, updated := f.TimeCreated, f.TimeUpdated
	d.TimeCreated = &created
	d.TimeUpdated = &updated
}

func entryDetail(e *models.Entry) EntryDetail {
	d := EntryDetail{EntryListItem: listItem(e)}
	models.Match(e,
		func(n *models.NoteContent) struct{} {
			fileDetail(&d, &n.FileInfo, e.Path())
			text := n.Text
			d.Text = &text
			d.HTML = n.HTML
			d.Checksum = checksum.Sum([]byte(n.Text))
			d.Links = n.Links
			return struct{}{}
		},
		func(doc *models.DocumentContent) struct{} {
			fileDetail(&d, &doc.FileInfo, e.Path())
			return struct{}{}
		},
		func(l *models.LinkContent) struct{} {
			d.Target = l.Target
			for _, ref := range l.ReferencedBy {
				d.ReferencedBy = append(d.ReferencedBy, ref.Key)
			}
			for _, r := range l.RefRepos {
				d.RefRepos = append(d.RefRepos, r.ID())
			}
			d.RefLocations = l.RefLocations
			d.OwnLabels = l.OwnLabels
			if l.StandaloneRepo != nil {
				d.Standalone = l.StandaloneRepo.ID()
			}
			return struct{}{}
		},
	)
	return d
}

func stagedOp(op gitdiff.Op) StagedOp {
	switch o := op.(type) {
	case gitdiff.Write:
		return StagedOp{Op: "write", Path: o.Path}
	case gitdiff.Remove:
		return StagedOp{Op: "remove", Path: o.Path}
	case gitdiff.Move:
		return StagedOp{Op: "move", From: o.From, To: o.To}
	}
	return StagedOp{Op: op.String()}
}

func stagedRepos(staged map[string][]gitdiff.Op) []StagedRepo {
	out := make([]StagedRepo, 0, len(staged))
	for id, ops := range staged {
		r := StagedRepo{Repo: id, Ops: make([]StagedOp, len(ops))}
		for i, op := range ops {
			r.Ops[i] = stagedOp(op)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out
}
