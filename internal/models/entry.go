package models

import (
	"fmt"
	"time"

	"github.com/starford/gitmarks/internal/pathcodec"
)

// Kind orders entries: notes first, then documents, then links.
type Kind int

const (
	KindNote Kind = iota
	KindDocument
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindDocument:
		return "document"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindNote, KindDocument, KindLink} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Entry is a note, document or link shown to the user.
//
// Idx is the position in the last sorted entry list and is only valid until
// the next recompute.
type Entry struct {
	Title    string
	Priority int
	Labels   []string
	Key      string
	Idx      int
	Content  Content
}

// Content is the kind-specific payload of an Entry. It is implemented only by
// *NoteContent, *DocumentContent and *LinkContent.
type Content interface {
	kind() Kind
}

// FileInfo is shared by the entries backed by a repository file.
type FileInfo struct {
	Repo        Repo
	Location    string
	Extension   string
	TimeCreated time.Time
	TimeUpdated time.Time
	RawURL      string
}

// NoteContent is a markdown note.
type NoteContent struct {
	FileInfo
	Text  string
	HTML  string
	Links []string
}

// DocumentContent is any non-markdown file.
type DocumentContent struct {
	FileInfo
}

// LinkContent is a bookmark, derived from note bodies or kept standalone in
// a repository's link store.
type LinkContent struct {
	Target         string
	ReferencedBy   []*Entry
	RefRepos       []Repo
	RefLocations   []string
	OwnLabels      []string
	StandaloneRepo *Repo
	// AlsoStandalone lists further repositories whose link store keeps the
	// link standalone. Only set while StandaloneRepo is set.
	AlsoStandalone []Repo
}

// StandaloneIn reports whether the link is kept standalone in repo.
func (l *LinkContent) StandaloneIn(repo Repo) bool {
	if l.StandaloneRepo == nil {
		return false
	}
	if l.StandaloneRepo.Same(repo) {
		return true
	}
	for _, r := range l.AlsoStandalone {
		if r.Same(repo) {
			return true
		}
	}
	return false
}

// ClearStandalone drops the link from every link store that keeps it
// standalone.
func (l *LinkContent) ClearStandalone() {
	l.StandaloneRepo = nil
	l.AlsoStandalone = nil
}

func (*NoteContent) kind() Kind     { return KindNote }
func (*DocumentContent) kind() Kind { return KindDocument }
func (*LinkContent) kind() Kind     { return KindLink }

// Kind returns the entry kind.
func (e *Entry) Kind() Kind {
	return e.Content.kind()
}

// Match dispatches on the entry content. Every caller has to handle every
// kind, so adding a kind breaks compilation instead of falling through.
func Match[T any](e *Entry, note func(*NoteContent) T, doc func(*DocumentContent) T, link func(*LinkContent) T) T {
	switch c := e.Content.(type) {
	case *NoteContent:
		return note(c)
	case *DocumentContent:
		return doc(c)
	case *LinkContent:
		return link(c)
	}
	panic(fmt.Sprintf("models: unknown entry content %T", e.Content))
}

// File returns the file part of a note or document entry.
func (e *Entry) File() (*FileInfo, bool) {
	return Match(e,
		func(n *NoteContent) *FileInfo { return &n.FileInfo },
		func(d *DocumentContent) *FileInfo { return &d.FileInfo },
		func(*LinkContent) *FileInfo { return nil },
	), e.Kind() != KindLink
}

// Link returns the link payload of a link entry.
func (e *Entry) Link() (*LinkContent, bool) {
	l, ok := e.Content.(*LinkContent)
	return l, ok
}

// Path returns the repository path of a file entry, or "" for links.
func (e *Entry) Path() string {
	f, ok := e.File()
	if !ok {
		return ""
	}
	return pathcodec.FilePath(f.Location, e.Title, f.Extension)
}
