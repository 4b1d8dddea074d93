// Package gitdiff computes the file operations that turn one snapshot of a
// repository into another.
package gitdiff

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/gitmarks/internal/filemap"
)

// Op is a single file operation. It is implemented only by Write, Remove
// and Move.
type Op interface {
	op()
	fmt.Stringer
}

// Write creates or overwrites Path with Content.
type Write struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Remove deletes Path.
type Remove struct {
	Path string `json:"path"`
}

// Move renames From to To without changing its content.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (Write) op()  {}
func (Remove) op() {}
func (Move) op()   {}

func (w Write) String() string  { return "write " + w.Path }
func (r Remove) String() string { return "remove " + r.Path }
func (m Move) String() string   { return "move " + m.From + " -> " + m.To }

// Diff returns the operations that transform orig into edit.
//
// A path present only in edit, or present in both with different content, is
// written. Content is the only change criterion; SHAs are not compared. Only
// files that carry content are written. A path present only in orig is
// removed. A removal and a write with equal content become a move when no
// other removal or write shares that content. The result lists writes, then
// removes, then moves, each ordered by path.
func Diff(orig, edit *filemap.FileMap) []Op {
	var (
		writes  []Write
		removes []Remove
	)
	for _, path := range edit.Keys() {
		f, _ := edit.Get(path)
		if !f.HasContent {
			continue
		}
		o, ok := orig.Get(path)
		if ok && o.HasContent && o.Content == f.Content {
			continue
		}
		writes = append(writes, Write{Path: path, Content: f.Content})
	}
	for _, path := range orig.Keys() {
		if !edit.Has(path) {
			removes = append(removes, Remove{Path: path})
		}
	}

	writes, removes, moves := collapseMoves(orig, writes, removes)

	ops := make([]Op, 0, len(writes)+len(removes)+len(moves))
	for _, w := range writes {
		ops = append(ops, w)
	}
	for _, r := range removes {
		ops = append(ops, r)
	}
	for _, m := range moves {
		ops = append(ops, m)
	}
	return ops
}

func collapseMoves(orig *filemap.FileMap, writes []Write, removes []Remove) ([]Write, []Remove, []Move) {
	type group struct{ writes, removes []int }
	groups := make(map[string]*group)
	at := func(content string) *group {
		g, ok := groups[content]
		if !ok {
			g = &group{}
			groups[content] = g
		}
		return g
	}
	for i, w := range writes {
		g := at(w.Content)
		g.writes = append(g.writes, i)
	}
	for i, r := range removes {
		o, _ := orig.Get(r.Path)
		if !o.HasContent {
			continue
		}
		g := at(o.Content)
		g.removes = append(g.removes, i)
	}

	movedW := make(map[int]bool)
	movedR := make(map[int]bool)
	var moves []Move
	for _, g := range groups {
		if len(g.writes) != 1 || len(g.removes) != 1 {
			continue
		}
		movedW[g.writes[0]] = true
		movedR[g.removes[0]] = true
		moves = append(moves, Move{From: removes[g.removes[0]].Path, To: writes[g.writes[0]].Path})
	}
	if len(moves) == 0 {
		return writes, removes, nil
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].From < moves[j].From })

	var keptW []Write
	for i, w := range writes {
		if !movedW[i] {
			keptW = append(keptW, w)
		}
	}
	var keptR []Remove
	for i, r := range removes {
		if !movedR[i] {
			keptR = append(keptR, r)
		}
	}
	return keptW, keptR, moves
}

// DiffAcrossRepos diffs every repository present in both orig and edit and
// returns the non-empty operation lists keyed by repository id. Repositories
// present on one side only are skipped.
func DiffAcrossRepos(orig, edit *filemap.Multi, logger *slog.Logger) map[string][]Op {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string][]Op)
	for _, id := range edit.IDs() {
		e, _ := edit.GetByID(id)
		o, ok := orig.GetByID(id)
		if !ok {
			logger.Debug("gitdiff: repository missing from original snapshot", slog.String("repo", id))
			continue
		}
		if ops := Diff(o, e); len(ops) > 0 {
			out[id] = ops
		}
	}
	for _, id := range orig.IDs() {
		if _, ok := edit.GetByID(id); !ok {
			logger.Debug("gitdiff: repository missing from edited snapshot", slog.String("repo", id))
		}
	}
	return out
}

// Apply performs ops on fm in order. Written files lose their remote
// identity; moved files keep their blob SHA.
func Apply(fm *filemap.FileMap, ops []Op) {
	for _, op := range ops {
		switch o := op.(type) {
		case Write:
			fm.SetFile(filemap.File{Path: o.Path, Content: o.Content, HasContent: true})
		case Remove:
			fm.Delete(o.Path)
		case Move:
			f, ok := fm.Get(o.From)
			if !ok {
				continue
			}
			fm.Delete(o.From)
			f.Path = o.To
			f.RawURL = ""
			fm.SetFile(f)
		}
	}
}

// Paths returns the paths touched by ops, sorted and without duplicates.
func Paths(ops []Op) []string {
	seen := make(map[string]struct{})
	for _, op := range ops {
		switch o := op.(type) {
		case Write:
			seen[o.Path] = struct{}{}
		case Remove:
			seen[o.Path] = struct{}{}
		case Move:
			seen[o.From] = struct{}{}
			seen[o.To] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
