package gitrepo

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"github.com/starford/gitmarks/internal/apperr"
)

// dirNode collects blob entries into nested trees before they are written.
type dirNode struct {
	files map[string]object.TreeEntry
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]object.TreeEntry{}, dirs: map[string]*dirNode{}}
}

func (n *dirNode) insert(parts []string, e object.TreeEntry) error {
	name := parts[0]
	if name == "" {
		return fmt.Errorf("gitrepo: empty path segment: %w", apperr.ErrInvalidInput)
	}
	if len(parts) == 1 {
		if _, ok := n.dirs[name]; ok {
			return fmt.Errorf("gitrepo: %s is a directory: %w", name, apperr.ErrConflict)
		}
		n.files[name] = e
		return nil
	}
	if _, ok := n.files[name]; ok {
		return fmt.Errorf("gitrepo: %s is a file: %w", name, apperr.ErrConflict)
	}
	child, ok := n.dirs[name]
	if !ok {
		child = newDirNode()
		n.dirs[name] = child
	}
	return child.insert(parts[1:], e)
}

// write stores n and its subdirectories and returns the tree hash.
func (n *dirNode) write(st storage.Storer) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	for _, e := range n.files {
		entries = append(entries, e)
	}
	for name, d := range n.dirs {
		h, err := d.write(st)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	// Git orders directories as if their name ended in a slash.
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})

	obj := st.NewEncodedObject()
	if err := (&object.Tree{Entries: entries}).Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
