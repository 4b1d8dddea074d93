// Package filemap holds in-memory snapshots of repository files.
//
// Snapshots are copied with Clone and never shared: the original snapshot of
// a reload stays untouched while edits go to a clone.
package filemap

import (
	"sort"

	"github.com/starford/gitmarks/internal/models"
)

// File is one repository file. File is a value type; copying it copies
// everything it owns.
type File struct {
	Path       string
	SHA        string
	RawURL     string
	Content    string
	HasContent bool
	Err        error
}

// InRemote reports whether the file exists in the remote repository.
func (f File) InRemote() bool {
	return f.SHA != "" && f.RawURL != ""
}

// Fetched reports whether a remote file also carries its content.
func (f File) Fetched() bool {
	return f.InRemote() && f.HasContent
}

// Virtual reports whether the file was created locally and never committed.
func (f File) Virtual() bool {
	return f.HasContent && f.SHA == "" && f.RawURL == ""
}

// FileMap maps a path to its file for one repository.
type FileMap struct {
	files map[string]File
}

// New returns an empty FileMap.
func New() *FileMap {
	return &FileMap{files: make(map[string]File)}
}

// Get returns the file at path.
func (m *FileMap) Get(path string) (File, bool) {
	f, ok := m.files[path]
	return f, ok
}

// Has reports whether path exists.
func (m *FileMap) Has(path string) bool {
	_, ok := m.files[path]
	return ok
}

// SetContent creates or updates the content at path. An existing remote
// identity (SHA, RawURL) is kept.
func (m *FileMap) SetContent(path, content string) {
	f, ok := m.files[path]
	if !ok {
		f = File{Path: path}
	}
	f.Content = content
	f.HasContent = true
	f.Err = nil
	m.files[path] = f
}

// SetFile stores f under f.Path, replacing any previous record.
func (m *FileMap) SetFile(f File) {
	m.files[f.Path] = f
}

// Delete removes path. Deleting a missing path is a no-op.
func (m *FileMap) Delete(path string) {
	delete(m.files, path)
}

// Len returns the number of files.
func (m *FileMap) Len() int {
	return len(m.files)
}

// Keys returns all paths in ascending order.
func (m *FileMap) Keys() []string {
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns all files ordered by path.
func (m *FileMap) Values() []File {
	out := make([]File, 0, len(m.files))
	for _, k := range m.Keys() {
		out = append(out, m.files[k])
	}
	return out
}

// ForEach calls fn for every file in path order.
func (m *FileMap) ForEach(fn func(File)) {
	for _, k := range m.Keys() {
		fn(m.files[k])
	}
}

// Clone returns a copy sharing no mutable state with m.
func (m *FileMap) Clone() *FileMap {
	c := &FileMap{files: make(map[string]File, len(m.files))}
	for k, f := range m.files {
		c.files[k] = f
	}
	return c
}

// RepoFiles pairs a repository with its snapshot.
type RepoFiles struct {
	Repo models.Repo
	Data *FileMap
}

// Multi maps derived repository ids to snapshots.
type Multi struct {
	repos map[string]RepoFiles
}

// NewMulti returns an empty Multi.
func NewMulti() *Multi {
	return &Multi{repos: make(map[string]RepoFiles)}
}

// Set stores data for repo, keyed by repo.ID().
func (m *Multi) Set(repo models.Repo, data *FileMap) {
	m.repos[repo.ID()] = RepoFiles{Repo: repo, Data: data}
}

// Get returns the snapshot of repo.
func (m *Multi) Get(repo models.Repo) (*FileMap, bool) {
	return m.GetByID(repo.ID())
}

// GetByID returns the snapshot stored under a derived repository id.
func (m *Multi) GetByID(id string) (*FileMap, bool) {
	rf, ok := m.repos[id]
	if !ok {
		return nil, false
	}
	return rf.Data, true
}

// Delete drops the snapshot of repo.
func (m *Multi) Delete(repo models.Repo) {
	delete(m.repos, repo.ID())
}

// IDs returns the repository ids in ascending order.
func (m *Multi) IDs() []string {
	ids := make([]string, 0, len(m.repos))
	for id := range m.repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns every repository with its snapshot, ordered by id.
func (m *Multi) Entries() []RepoFiles {
	out := make([]RepoFiles, 0, len(m.repos))
	for _, id := range m.IDs() {
		out = append(out, m.repos[id])
	}
	return out
}

// Len returns the number of repositories.
func (m *Multi) Len() int {
	return len(m.repos)
}

// Clone clones every contained FileMap.
func (m *Multi) Clone() *Multi {
	c := &Multi{repos: make(map[string]RepoFiles, len(m.repos))}
	for id, rf := range m.repos {
		c.repos[id] = RepoFiles{Repo: rf.Repo, Data: rf.Data.Clone()}
	}
	return c
}
