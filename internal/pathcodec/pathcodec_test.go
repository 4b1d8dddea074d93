package pathcodec

import "testing"

func TestTitleRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain title",
		"A/B",
		"/leading and trailing/",
		"a//b",
		string(SlashStandIn),
		string(Escape),
		"x" + string(Escape),
		string(Escape) + string(SlashStandIn) + "/" + string(Escape),
		"ünïcødé/標題",
	}
	for _, c := range cases {
		enc := EncodeTitle(c)
		for _, r := range enc {
			if r == '/' {
				t.Errorf("EncodeTitle(%q) = %q contains a slash", c, enc)
			}
		}
		if got := DecodeTitle(enc); got != c {
			t.Errorf("DecodeTitle(EncodeTitle(%q)) = %q", c, got)
		}
	}
}

func TestEncodeTitle_Slash(t *testing.T) {
	got := EncodeTitle("A/B")
	want := "A" + string(SlashStandIn) + "B"
	if got != want {
		t.Errorf("EncodeTitle = %q, want %q", got, want)
	}
}

func TestDecodeTitle_TrailingEscapeKept(t *testing.T) {
	in := "abc" + string(Escape)
	if got := DecodeTitle(in); got != in {
		t.Errorf("DecodeTitle(%q) = %q, want input unchanged", in, got)
	}
}

func TestDecodeTitle_EscapedStandIn(t *testing.T) {
	in := string(Escape) + string(SlashStandIn)
	if got := DecodeTitle(in); got != string(SlashStandIn) {
		t.Errorf("DecodeTitle(%q) = %q", in, got)
	}
}

func TestSplitLocationFilename(t *testing.T) {
	tests := []struct {
		path, loc, name string
	}{
		{"foo/bar/baz.md", "foo/bar", "baz.md"},
		{"baz.md", "", "baz.md"},
		{"foo/", "foo", ""},
	}
	for _, tt := range tests {
		loc, name := SplitLocationFilename(tt.path)
		if loc != tt.loc || name != tt.name {
			t.Errorf("SplitLocationFilename(%q) = (%q, %q), want (%q, %q)", tt.path, loc, name, tt.loc, tt.name)
		}
	}
}

func TestSplitTitleExtension(t *testing.T) {
	tests := []struct {
		filename, title, ext string
	}{
		{"my_title....md", "my_title...", "md"},
		{"README", "README", ""},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"A" + string(SlashStandIn) + "B.md", "A/B", "md"},
	}
	for _, tt := range tests {
		title, ext := SplitTitleExtension(tt.filename)
		if title != tt.title || ext != tt.ext {
			t.Errorf("SplitTitleExtension(%q) = (%q, %q), want (%q, %q)", tt.filename, title, ext, tt.title, tt.ext)
		}
	}
}

func TestFilePathInvertsSplits(t *testing.T) {
	p := FilePath("notes/daily", "A/B", "md")
	loc, name := SplitLocationFilename(p)
	title, ext := SplitTitleExtension(name)
	if loc != "notes/daily" || title != "A/B" || ext != "md" {
		t.Errorf("round trip of %q = (%q, %q, %q)", p, loc, title, ext)
	}
	if got := FilePath("", "x", ""); got != "x" {
		t.Errorf("FilePath without location = %q", got)
	}
}

func TestMetaPathAndReserved(t *testing.T) {
	mp := MetaPath("foo/bar.md")
	if mp != ".gitmarks/foo/bar.md.meta.yaml" {
		t.Errorf("MetaPath = %q", mp)
	}
	if !IsReserved(mp) || !IsReserved(LinkStorePath) {
		t.Error("sidecar and link store must be reserved")
	}
	if IsReserved("foo/bar.md") || IsReserved(".gitmarksish/x") {
		t.Error("ordinary path reported as reserved")
	}
}
