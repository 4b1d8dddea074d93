package session

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/gitmarks/internal/apperr"
	"github.com/starford/gitmarks/internal/checksum"
	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/linkstore"
	"github.com/starford/gitmarks/internal/metadata"
	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/pathcodec"
	"github.com/starford/gitmarks/internal/reconcile"
)

// NewNote describes a note to create.
type NewNote struct {
	Repo     string
	Location string
	Title    string
	Text     string
	Labels   []string
}

// NewDocument describes an uploaded document.
type NewDocument struct {
	Repo     string
	Location string
	Filename string
	Data     []byte
	Labels   []string
}

// NewLink describes a standalone link.
type NewLink struct {
	Repo   string
	Title  string
	Target string
	Labels []string
}

// editFunc changes edit and the link cache and returns the key of the entry
// the caller is interested in afterwards, or "" for none.
type editFunc func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error)

// mutate applies fn to a clone of the edit snapshot and installs the result.
// ev is emitted on success, keyed by the resulting entry unless it names a
// key already.
func (s *Service) mutate(ev Event, fn editFunc) (*models.Entry, error) {
	if s.reloading.Load() {
		return nil, fmt.Errorf("session: edit: %w", apperr.ErrBusy)
	}
	s.mu.Lock()
	edit := s.edit.Clone()
	links, key, err := fn(edit, s.linkSeeds())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	fileEntries, errs := s.buildFileEntries(edit)
	for _, err := range errs {
		s.logger.Warn("session: entry failed to load", slog.String("error", err.Error()))
	}
	if err := s.install(edit, fileEntries, links); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var active *models.Entry
	if key != "" {
		e, ok := s.byKey[key]
		if !ok {
			s.mu.Unlock()
			s.logger.Error("session: active entry disappeared after recompute", slog.String("key", key))
			return nil, fmt.Errorf("session: %s: %w", key, apperr.ErrNoActiveEntry)
		}
		active = e
	}
	entries := s.entries
	staged := len(s.staged)
	s.mu.Unlock()

	s.syncIndex(entries)
	if ev.Key == "" && active != nil {
		ev.Key = active.Key
	}
	ev.Data = map[string]int{"staged_repos": staged}
	s.emit(ev)
	return active, nil
}

// linkSeeds returns fresh copies of the current link entries. Callers hold
// s.mu.
func (s *Service) linkSeeds() []*models.Entry {
	out := make([]*models.Entry, 0, len(s.links))
	for _, e := range s.links {
		out = append(out, reconcile.CopyLinkSeed(e))
	}
	return out
}

// entryLocked returns the entry with key. Callers hold s.mu.
func (s *Service) entryLocked(key string) (*models.Entry, error) {
	e, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("session: entry %s: %w", key, apperr.ErrNotFound)
	}
	return e, nil
}

// activeMap returns the edit snapshot of the repository with id.
func activeMap(edit *filemap.Multi, id string) (*filemap.FileMap, error) {
	fm, ok := edit.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("session: repository %s is not loaded: %w", id, apperr.ErrNotFound)
	}
	return fm, nil
}

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || strings.ContainsAny(title, "\r\n") {
		return "", fmt.Errorf("session: title %q: %w", title, apperr.ErrInvalidInput)
	}
	return title, nil
}

func cleanLocation(location string) (string, error) {
	location = strings.Trim(strings.TrimSpace(location), "/")
	if location == "" {
		return "", nil
	}
	if c := path.Clean(location); c != location || strings.HasPrefix(c, "..") {
		return "", fmt.Errorf("session: location %q: %w", location, apperr.ErrInvalidInput)
	}
	if pathcodec.IsReserved(location) {
		return "", fmt.Errorf("session: location %q is reserved: %w", location, apperr.ErrInvalidInput)
	}
	return location, nil
}

func readMeta(fm *filemap.FileMap, p string, fresh func() metadata.MetaData) (metadata.MetaData, error) {
	f, ok := fm.Get(pathcodec.MetaPath(p))
	if !ok || !f.HasContent {
		return fresh(), nil
	}
	return metadata.Parse(f.Content)
}

func writeMeta(fm *filemap.FileMap, p string, md metadata.MetaData) error {
	text, err := metadata.Serialize(md)
	if err != nil {
		return err
	}
	fm.SetContent(pathcodec.MetaPath(p), text)
	return nil
}

func (s *Service) freshMeta() metadata.MetaData {
	return metadata.New(s.now())
}

func (s *Service) createFile(repoID, location, title, ext, content string, labels []string) editFunc {
	return func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		repo, err := s.repoLocked(repoID)
		if err != nil {
			return nil, "", err
		}
		fm, err := activeMap(edit, repoID)
		if err != nil {
			return nil, "", err
		}
		p := pathcodec.FilePath(location, title, ext)
		if fm.Has(p) {
			return nil, "", fmt.Errorf("session: %s: %w", p, apperr.ErrAlreadyExists)
		}
		fm.SetContent(p, content)
		md := s.freshMeta()
		md.Labels = reconcile.MergeLabels(nil, labels)
		if err := writeMeta(fm, p, md); err != nil {
			return nil, "", err
		}
		return links, reconcile.FileKey(repo, p), nil
	}
}

// CreateNote stages a new markdown note.
func (s *Service) CreateNote(in NewNote) (*models.Entry, error) {
	title, err := cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	location, err := cleanLocation(in.Location)
	if err != nil {
		return nil, err
	}
	return s.mutate(Event{Type: EventEntryCreated}, s.createFile(in.Repo, location, title, pathcodec.NoteExtension, in.Text, in.Labels))
}

// CreateDocument stages an uploaded file. The title is the filename without
// its extension.
func (s *Service) CreateDocument(in NewDocument) (*models.Entry, error) {
	title, ext := pathcodec.SplitTitleExtension(path.Base(in.Filename))
	title, err := cleanTitle(title)
	if err != nil {
		return nil, err
	}
	location, err := cleanLocation(in.Location)
	if err != nil {
		return nil, err
	}
	return s.mutate(Event{Type: EventEntryCreated}, s.createFile(in.Repo, location, title, ext, string(in.Data), in.Labels))
}

// UpdateText replaces the body of a note. A non-empty ifMatch must equal
// the checksum of the current body.
func (s *Service) UpdateText(key, text, ifMatch string) (*models.Entry, error) {
	return s.mutate(Event{Type: EventEntryUpdated}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		e, err := s.entryLocked(key)
		if err != nil {
			return nil, "", err
		}
		note, ok := e.Content.(*models.NoteContent)
		if !ok {
			return nil, "", fmt.Errorf("session: %s is a %s: %w", key, e.Kind(), apperr.ErrInvalidInput)
		}
		if ifMatch != "" && ifMatch != checksum.Sum([]byte(note.Text)) {
			return nil, "", fmt.Errorf("session: %s: %w", key, apperr.ErrConflict)
		}
		fm, err := activeMap(edit, note.Repo.ID())
		if err != nil {
			return nil, "", err
		}
		p := filePath(e)
		md, err := readMeta(fm, p, s.freshMeta)
		if err != nil {
			return nil, "", err
		}
		md.TimeUpdated = s.now()
		fm.SetContent(p, text)
		if err := writeMeta(fm, p, md); err != nil {
			return nil, "", err
		}
		return links, key, nil
	})
}

// SetLabels replaces the labels of a file entry, or the own labels of a
// link.
func (s *Service) SetLabels(key string, labels []string) (*models.Entry, error) {
	return s.mutate(Event{Type: EventEntryUpdated}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		e, err := s.entryLocked(key)
		if err != nil {
			return nil, "", err
		}
		if l, ok := e.Link(); ok {
			seed := findLink(links, l.Target)
			if seed == nil {
				return nil, "", fmt.Errorf("session: link %s: %w", l.Target, apperr.ErrNotFound)
			}
			sl, _ := seed.Link()
			sl.OwnLabels = reconcile.MergeLabels(nil, labels)
			return links, key, nil
		}
		info, _ := e.File()
		fm, err := activeMap(edit, info.Repo.ID())
		if err != nil {
			return nil, "", err
		}
		p := filePath(e)
		md, err := readMeta(fm, p, s.freshMeta)
		if err != nil {
			return nil, "", err
		}
		md.Labels = reconcile.MergeLabels(nil, labels)
		md.TimeUpdated = s.now()
		if err := writeMeta(fm, p, md); err != nil {
			return nil, "", err
		}
		return links, key, nil
	})
}

// Move renames a file entry to title under location, taking its sidecar
// along. For links only the title changes.
func (s *Service) Move(key, location, title string) (*models.Entry, error) {
	title, err := cleanTitle(title)
	if err != nil {
		return nil, err
	}
	location, err = cleanLocation(location)
	if err != nil {
		return nil, err
	}
	return s.mutate(Event{Type: EventEntryUpdated}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		e, err := s.entryLocked(key)
		if err != nil {
			return nil, "", err
		}
		if l, ok := e.Link(); ok {
			seed := findLink(links, l.Target)
			if seed == nil {
				return nil, "", fmt.Errorf("session: link %s: %w", l.Target, apperr.ErrNotFound)
			}
			seed.Title = title
			return links, key, nil
		}

		info, _ := e.File()
		fm, err := activeMap(edit, info.Repo.ID())
		if err != nil {
			return nil, "", err
		}
		from := filePath(e)
		to := pathcodec.FilePath(location, title, info.Extension)
		if from == to {
			return links, key, nil
		}
		if fm.Has(to) {
			return nil, "", fmt.Errorf("session: %s: %w", to, apperr.ErrAlreadyExists)
		}
		if err := moveFile(fm, from, to); err != nil {
			return nil, "", err
		}
		if fm.Has(pathcodec.MetaPath(from)) {
			if err := moveFile(fm, pathcodec.MetaPath(from), pathcodec.MetaPath(to)); err != nil {
				return nil, "", err
			}
		}
		return links, reconcile.FileKey(info.Repo, to), nil
	})
}

// filePath returns the repository path of a file entry as loaded, which is
// the key without its repository prefix.
func filePath(e *models.Entry) string {
	info, _ := e.File()
	return strings.TrimPrefix(e.Key, info.Repo.ID()+":")
}

func moveFile(fm *filemap.FileMap, from, to string) error {
	f, ok := fm.Get(from)
	if !ok {
		return fmt.Errorf("session: %s: %w", from, apperr.ErrNotFound)
	}
	if !f.HasContent {
		return fmt.Errorf("session: %s has no content to move: %w", from, apperr.ErrInvalidInput)
	}
	fm.Delete(from)
	f.Path = to
	f.RawURL = ""
	fm.SetFile(f)
	return nil
}

// Delete removes a file entry and its sidecar. A link loses its standalone
// flag and disappears unless notes still reference it.
func (s *Service) Delete(key string) error {
	_, err := s.mutate(Event{Type: EventEntryDeleted, Key: key}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		e, err := s.entryLocked(key)
		if err != nil {
			return nil, "", err
		}
		if l, ok := e.Link(); ok {
			if l.StandaloneRepo == nil {
				return nil, "", fmt.Errorf("session: link %s is only kept alive by notes: %w", l.Target, apperr.ErrConflict)
			}
			if seed := findLink(links, l.Target); seed != nil {
				sl, _ := seed.Link()
				sl.ClearStandalone()
			}
			return links, "", nil
		}
		info, _ := e.File()
		fm, err := activeMap(edit, info.Repo.ID())
		if err != nil {
			return nil, "", err
		}
		p := filePath(e)
		fm.Delete(p)
		fm.Delete(pathcodec.MetaPath(p))
		return links, "", nil
	})
	if err == nil {
		s.positions.Forget(key)
	}
	return err
}

// AddLink stages a standalone link in a repository. An existing link to the
// same target becomes standalone there.
func (s *Service) AddLink(in NewLink) (*models.Entry, error) {
	rec := linkstore.Record{Title: strings.TrimSpace(in.Title), Target: strings.TrimSpace(in.Target)}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("session: link: %v: %w", err, apperr.ErrInvalidInput)
	}
	return s.mutate(Event{Type: EventEntryCreated}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		repo, err := s.repoLocked(in.Repo)
		if err != nil {
			return nil, "", err
		}
		if err := linkStoreWritable(edit, repo); err != nil {
			return nil, "", err
		}
		if seed := findLink(links, rec.Target); seed != nil {
			sl, _ := seed.Link()
			if sl.StandaloneRepo != nil {
				return nil, "", fmt.Errorf("session: link %s: %w", rec.Target, apperr.ErrAlreadyExists)
			}
			sl.StandaloneRepo = &repo
			sl.OwnLabels = reconcile.MergeLabels(sl.OwnLabels, in.Labels)
			if rec.Title != "" {
				seed.Title = rec.Title
			}
			return links, reconcile.LinkKey(rec.Target), nil
		}
		links = append(links, reconcile.NewLinkEntry(rec.Title, rec.Target, in.Labels, &repo))
		return links, reconcile.LinkKey(rec.Target), nil
	})
}

func findLink(links []*models.Entry, target string) *models.Entry {
	for _, e := range links {
		if l, ok := e.Link(); ok && l.Target == target {
			return e
		}
	}
	return nil
}

// LinkUpdate changes a link. Nil fields are left alone. Standalone true
// keeps the link in the store of Repo, or the default repository when Repo
// is empty.
type LinkUpdate struct {
	Title      *string
	Labels     []string
	Standalone *bool
	Repo       string
}

// UpdateLink changes the title, own labels or standalone flag of a link.
// Dropping the standalone flag of a link no note references fails with
// apperr.ErrConflict; use Delete to remove it.
func (s *Service) UpdateLink(key string, in LinkUpdate) (*models.Entry, error) {
	var title string
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("session: link title is empty: %w", apperr.ErrInvalidInput)
		}
	}
	return s.mutate(Event{Type: EventEntryUpdated}, func(edit *filemap.Multi, links []*models.Entry) ([]*models.Entry, string, error) {
		e, err := s.entryLocked(key)
		if err != nil {
			return nil, "", err
		}
		l, ok := e.Link()
		if !ok {
			return nil, "", fmt.Errorf("session: %s is a %s: %w", key, e.Kind(), apperr.ErrInvalidInput)
		}
		seed := findLink(links, l.Target)
		if seed == nil {
			return nil, "", fmt.Errorf("session: link %s: %w", l.Target, apperr.ErrNotFound)
		}
		sl, _ := seed.Link()
		if in.Title != nil {
			seed.Title = title
		}
		if in.Labels != nil {
			sl.OwnLabels = reconcile.MergeLabels(nil, in.Labels)
		}
		if in.Standalone != nil {
			switch {
			case *in.Standalone:
				repo, err := s.linkRepoLocked(in.Repo)
				if err != nil {
					return nil, "", err
				}
				if err := linkStoreWritable(edit, repo); err != nil {
					return nil, "", err
				}
				sl.StandaloneRepo = &repo
			case len(l.ReferencedBy) == 0:
				return nil, "", fmt.Errorf("session: link %s would have no owner: %w", l.Target, apperr.ErrConflict)
			default:
				sl.ClearStandalone()
			}
		}
		return links, key, nil
	})
}

// linkStoreWritable refuses standalone links in a repository whose link
// store is unreadable, since that store is never rewritten.
func linkStoreWritable(edit *filemap.Multi, repo models.Repo) error {
	fm, err := activeMap(edit, repo.ID())
	if err != nil {
		return err
	}
	if err := reconcile.LinkStoreWritable(fm); err != nil {
		return fmt.Errorf("session: %s: %v: %w", repo.ID(), err, apperr.ErrConflict)
	}
	return nil
}

func (s *Service) linkRepoLocked(id string) (models.Repo, error) {
	if id != "" {
		return s.repoLocked(id)
	}
	return s.defaultRepoLocked()
}
