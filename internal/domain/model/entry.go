package model

import (
	"path"
	"strings"
)

// EntryType classifies a catalog entry by its filename extension.
type EntryType string

const (
	EntryTypeVideo   EntryType = "video"
	EntryTypeImage   EntryType = "image"
	EntryTypeArchive EntryType = "archive"
	EntryTypeOther   EntryType = "other"
)

// extensionTypes maps lowercase extensions (without the dot) to entry types.
// Anything not listed is EntryTypeOther.
var extensionTypes = map[string]EntryType{
	"mp4":  EntryTypeVideo,
	"mkv":  EntryTypeVideo,
	"avi":  EntryTypeVideo,
	"mov":  EntryTypeVideo,
	"webm": EntryTypeVideo,
	"flv":  EntryTypeVideo,
	"wmv":  EntryTypeVideo,
	"m4v":  EntryTypeVideo,

	"jpg":  EntryTypeImage,
	"jpeg": EntryTypeImage,
	"png":  EntryTypeImage,
	"gif":  EntryTypeImage,
	"webp": EntryTypeImage,
	"bmp":  EntryTypeImage,

	"zip": EntryTypeArchive,
}

// videoContentTypes lists the video extensions with a dedicated MIME type.
// Other video extensions fall back to video/mp4.
var videoContentTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogg":  "video/ogg",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
}

const (
	defaultVideoContentType = "video/mp4"
	defaultContentType      = "application/octet-stream"
)

func (t EntryType) String() string {
	return string(t)
}

// IsStreamable reports whether entries of this type are kept when an archive is flattened.
func (t EntryType) IsStreamable() bool {
	return t == EntryTypeVideo || t == EntryTypeImage
}

// Extension returns the lowercase extension of name without the leading dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// Classify returns the entry type for a file name. Matching is case-insensitive.
func Classify(name string) EntryType {
	if t, ok := extensionTypes[Extension(name)]; ok {
		return t
	}
	return EntryTypeOther
}

// ContentType returns the Content-Type served for an entry.
func ContentType(name string, t EntryType) string {
	ext := Extension(name)
	switch t {
	case EntryTypeVideo:
		if ct, ok := videoContentTypes[ext]; ok {
			return ct
		}
		return defaultVideoContentType
	case EntryTypeImage:
		if ext == "jpg" {
			return "image/jpeg"
		}
		return "image/" + ext
	default:
		if ct, ok := videoContentTypes[ext]; ok {
			return ct
		}
		return defaultContentType
	}
}

// Entry is a single streamable item in a catalog.
// Entries flattened out of an archive carry the archive's path as a prefix
// and the member's uncompressed length.
type Entry struct {
	Name   string
	Length uint64
	Path   string
	Type   EntryType
}

// Catalog is the flat, classified list of entries for one content source.
// A Catalog is never mutated after it is built.
type Catalog []Entry

// Find looks up an entry by its full path first and falls back to its name.
// A name shared by several entries matches none of them.
func (c Catalog) Find(name string) (Entry, bool) {
	for _, e := range c {
		if e.Path == name {
			return e, true
		}
	}

	var (
		match Entry
		n     int
	)
	for _, e := range c {
		if e.Name == name {
			match = e
			n++
		}
	}
	if n != 1 {
		return Entry{}, false
	}
	return match, true
}
