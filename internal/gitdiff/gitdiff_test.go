package gitdiff

import (
	"reflect"
	"testing"

	"github.com/starford/gitmarks/internal/filemap"
	"github.com/starford/gitmarks/internal/models"
)

func mapOf(kv ...string) *filemap.FileMap {
	fm := filemap.New()
	for i := 0; i < len(kv); i += 2 {
		fm.SetContent(kv[i], kv[i+1])
	}
	return fm
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		orig *filemap.FileMap
		edit *filemap.FileMap
		want []Op
	}{
		{
			name: "new file",
			orig: mapOf(),
			edit: mapOf("foo/bar", "foobar"),
			want: []Op{Write{Path: "foo/bar", Content: "foobar"}},
		},
		{
			name: "rename",
			orig: mapOf("foo/bar", "foobar"),
			edit: mapOf("foo/baz", "foobar"),
			want: []Op{Move{From: "foo/bar", To: "foo/baz"}},
		},
		{
			name: "rename with changed content",
			orig: mapOf("foo/bar", "foobar"),
			edit: mapOf("foo/baz", "other"),
			want: []Op{Write{Path: "foo/baz", Content: "other"}, Remove{Path: "foo/bar"}},
		},
		{
			name: "update and delete",
			orig: mapOf("a", "1", "b", "2", "c", "3"),
			edit: mapOf("a", "1", "b", "22"),
			want: []Op{Write{Path: "b", Content: "22"}, Remove{Path: "c"}},
		},
		{
			name: "two removals never collapse",
			orig: mapOf("a", "x", "b", "x"),
			edit: mapOf("c", "x"),
			want: []Op{Write{Path: "c", Content: "x"}, Remove{Path: "a"}, Remove{Path: "b"}},
		},
		{
			name: "note and sidecar renamed together",
			orig: mapOf("a.md", "text", ".gitmarks/a.md.meta.yaml", "meta"),
			edit: mapOf("b.md", "text", ".gitmarks/b.md.meta.yaml", "meta"),
			want: []Op{
				Move{From: ".gitmarks/a.md.meta.yaml", To: ".gitmarks/b.md.meta.yaml"},
				Move{From: "a.md", To: "b.md"},
			},
		},
		{
			name: "ordered by path",
			orig: mapOf(),
			edit: mapOf("z", "1", "a", "2", "m", "3"),
			want: []Op{Write{Path: "a", Content: "2"}, Write{Path: "m", Content: "3"}, Write{Path: "z", Content: "1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.orig, tt.edit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Diff = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiff_Identical(t *testing.T) {
	fm := mapOf("a", "1", "b/c", "2")
	if ops := Diff(fm, fm.Clone()); len(ops) != 0 {
		t.Fatalf("Diff of identical maps = %v", ops)
	}
}

func TestDiff_UnfetchedFiles(t *testing.T) {
	orig := filemap.New()
	orig.SetFile(filemap.File{Path: "doc.pdf", SHA: "beef", RawURL: "u"})
	orig.SetFile(filemap.File{Path: "big.bin", SHA: "deadbeef", RawURL: "u"})

	edit := orig.Clone()
	edit.SetContent("doc.pdf", "pdf")
	edit.SetFile(filemap.File{Path: "new.bin", SHA: "cafe", RawURL: "u"})

	want := []Op{Write{Path: "doc.pdf", Content: "pdf"}}
	if ops := Diff(orig, edit); !reflect.DeepEqual(ops, want) {
		t.Fatalf("Diff = %v, want %v", ops, want)
	}
}

func TestApply_Completeness(t *testing.T) {
	orig := mapOf("a", "1", "b", "2", "dir/c", "3")
	edit := mapOf("a", "1", "b", "changed", "dir/d", "3", "new", "n")

	got := orig.Clone()
	Apply(got, Diff(orig, edit))

	if !reflect.DeepEqual(got.Keys(), edit.Keys()) {
		t.Fatalf("keys = %v, want %v", got.Keys(), edit.Keys())
	}
	for _, k := range edit.Keys() {
		want, _ := edit.Get(k)
		have, _ := got.Get(k)
		if have.Content != want.Content {
			t.Errorf("%s = %q, want %q", k, have.Content, want.Content)
		}
	}
}

func TestApply_Move(t *testing.T) {
	fm := filemap.New()
	fm.SetFile(filemap.File{Path: "old", SHA: "s", RawURL: "u", Content: "x", HasContent: true})
	Apply(fm, []Op{Move{From: "old", To: "new"}, Move{From: "missing", To: "other"}})

	f, ok := fm.Get("new")
	if !ok || f.Content != "x" || f.SHA != "s" || f.RawURL != "" {
		t.Fatalf("moved file = %+v", f)
	}
	if fm.Has("old") || fm.Has("other") {
		t.Errorf("keys = %v", fm.Keys())
	}
}

func TestDiffAcrossRepos(t *testing.T) {
	r1 := models.NewRepo("a", "one", "main")
	r2 := models.NewRepo("a", "two", "main")
	r3 := models.NewRepo("a", "three", "main")

	orig := filemap.NewMulti()
	orig.Set(r1, mapOf("x", "1"))
	orig.Set(r2, mapOf("y", "1"))
	edit := orig.Clone()
	e1, _ := edit.Get(r1)
	e1.SetContent("x", "2")
	edit.Set(r3, mapOf("z", "1"))

	got := DiffAcrossRepos(orig, edit, nil)
	if len(got) != 1 {
		t.Fatalf("repos = %v, want only %s", got, r1.ID())
	}
	if !reflect.DeepEqual(got[r1.ID()], []Op{Write{Path: "x", Content: "2"}}) {
		t.Errorf("ops = %v", got[r1.ID()])
	}
}

func TestPaths(t *testing.T) {
	ops := []Op{Write{Path: "b"}, Remove{Path: "a"}, Move{From: "c", To: "b"}}
	if got := Paths(ops); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Paths = %v", got)
	}
}
