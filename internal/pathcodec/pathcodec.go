// Package pathcodec maps entries (location, title, extension) to repository
// file paths and back.
//
// A "/" inside a title cannot appear in a file name, so it is stored as
// SlashStandIn. Literal occurrences of SlashStandIn or Escape inside a title
// are prefixed with Escape.
package pathcodec

import "strings"

const (
	SlashStandIn = '∕' // U+2215 DIVISION SLASH
	Escape       = '⧵' // U+29F5 REVERSE SOLIDUS OPERATOR
)

const (
	// ReservedDir holds sidecar metadata files and the link store.
	ReservedDir    = ".gitmarks"
	MetaSuffix     = ".meta.yaml"
	LinkStorePath  = ReservedDir + "/links.yaml"
	NoteExtension  = "md"
	reservedPrefix = ReservedDir + "/"
)

// EncodeTitle turns a title into a string that is safe to use as a file name.
func EncodeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch r {
		case '/':
			b.WriteRune(SlashStandIn)
		case SlashStandIn, Escape:
			b.WriteRune(Escape)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeTitle inverts EncodeTitle with a single left-to-right scan. An
// escape character at the very end of the input is kept literally.
func DecodeTitle(filename string) string {
	var b strings.Builder
	b.Grow(len(filename))
	escaped := false
	for _, r := range filename {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case Escape:
			escaped = true
		case SlashStandIn:
			b.WriteByte('/')
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteRune(Escape)
	}
	return b.String()
}

// SplitLocationFilename splits at the last "/". A path without "/" has an
// empty location.
func SplitLocationFilename(path string) (location, filename string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// SplitTitleExtension splits at the last "." and decodes the title part. A
// filename without "." has an empty extension.
func SplitTitleExtension(filename string) (title, extension string) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return DecodeTitle(filename), ""
	}
	return DecodeTitle(filename[:i]), filename[i+1:]
}

// FilePath composes the repository path for an entry.
func FilePath(location, title, extension string) string {
	name := EncodeTitle(title)
	if extension != "" {
		name += "." + extension
	}
	location = strings.Trim(location, "/")
	if location == "" {
		return name
	}
	return location + "/" + name
}

// MetaPath returns the sidecar metadata path for a content file.
func MetaPath(path string) string {
	return reservedPrefix + path + MetaSuffix
}

// IsReserved reports whether path lives in the reserved folder.
func IsReserved(path string) bool {
	return path == ReservedDir || strings.HasPrefix(path, reservedPrefix)
}
