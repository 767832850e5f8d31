package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrTooLarge is returned when the archive or its decompressed content
	// exceeds the configured size limit or compression ratio.
	ErrTooLarge = errors.New("archive too large")

	// ErrNotAZip is returned when the stream is not a readable ZIP archive.
	ErrNotAZip = errors.New("not a zip archive")

	// ErrPathTraversal is returned when an entry would resolve outside the extraction root.
	ErrPathTraversal = errors.New("archive entry escapes extraction root")

	// ErrMissingEntryPoint is returned when no usable entry point file is present.
	ErrMissingEntryPoint = errors.New("entry point not found in archive")

	// ErrEmptyArchive is returned when the archive contains no files.
	ErrEmptyArchive = errors.New("archive contains no files")

	// ErrDuplicateEntry is returned when two entries normalize to the same path.
	ErrDuplicateEntry = errors.New("archive contains duplicate entries")
)

// IsValidationError reports whether err is one of the archive rejection errors.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrNotAZip) ||
		errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrMissingEntryPoint) ||
		errors.Is(err, ErrEmptyArchive) ||
		errors.Is(err, ErrDuplicateEntry)
}

// EntryKind classifies an archive entry.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
)

// Entry is a validated archive member.
type Entry struct {
	// Name is the normalized slash-separated path relative to the archive root.
	Name string
	Kind EntryKind
	// Size is the number of bytes actually produced by decompression.
	Size int64

	file *zip.File
}

// Archive is the result of a successful validation. It keeps the raw bytes so
// extraction never re-reads the upload stream.
type Archive struct {
	// Digest is the hex content hash of the raw archive bytes.
	Digest           string
	CompressedSize   int64
	UncompressedSize int64
	FileCount        int
	// Root is the wrapping folder prefix ("" or "<dir>/") that extraction strips.
	Root string
	// EntryPoint is the entry point path relative to Root.
	EntryPoint string
	Entries    []Entry

	data []byte
}

// Bytes returns the raw archive bytes.
func (a *Archive) Bytes() []byte {
	return a.data
}

// Open returns a reader over the decompressed content of a file entry.
func (a *Archive) Open(e Entry) (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("entry %q has no content", e.Name)
	}
	return e.file.Open()
}

// RelativeName returns the entry name with the wrapping folder stripped.
func (a *Archive) RelativeName(e Entry) string {
	return strings.TrimPrefix(e.Name, a.Root)
}

// normalizeName turns a raw ZIP entry name into a clean relative path.
// It returns "" for names that denote the root itself.
func normalizeName(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrPathTraversal, raw)
	}
	name := strings.ReplaceAll(raw, "\\", "/")

	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathTraversal, raw)
	}
	if len(name) >= 2 && name[1] == ':' {
		return "", fmt.Errorf("%w: %q has a drive letter", ErrPathTraversal, raw)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, raw)
		}
	}

	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// symlinkEscapes reports whether a link at name pointing to target leaves the root.
func symlinkEscapes(name, target string) bool {
	target = strings.ReplaceAll(target, "\\", "/")
	if target == "" || strings.HasPrefix(target, "/") || (len(target) >= 2 && target[1] == ':') {
		return true
	}
	resolved := path.Clean(path.Join(path.Dir(name), target))
	return resolved == ".." || strings.HasPrefix(resolved, "../")
}

// isJunk reports entries produced by archiving tools that are never extracted.
func isJunk(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, "__MACOSX/") || path.Base(name) == ".DS_Store"
}
