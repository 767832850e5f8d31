package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultEntryPoint is the file a project must expose.
	DefaultEntryPoint = "index.html"

	// DefaultMaxSizeBytes bounds both the upload and its decompressed content.
	DefaultMaxSizeBytes int64 = 50 << 20

	// DefaultMaxUncompressedRatio bounds uncompressed:compressed size.
	DefaultMaxUncompressedRatio = 100.0

	maxSymlinkTarget = 4096
)

// Options configures archive validation.
type Options struct {
	MaxSizeBytes         int64
	MaxUncompressedRatio float64
	EntryPoint           string
}

// Validator inspects uploaded archives without touching the filesystem.
type Validator struct {
	opts Options
}

// NewValidator creates a validator, filling zero options with defaults.
func NewValidator(opts Options) *Validator {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.MaxUncompressedRatio <= 0 {
		opts.MaxUncompressedRatio = DefaultMaxUncompressedRatio
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = DefaultEntryPoint
	}
	return &Validator{opts: opts}
}

// Options returns the effective validation options.
func (v *Validator) Options() Options {
	return v.opts
}

// Validate reads the archive from r and checks it is a well-formed, safe ZIP
// with an entry point. The stream is cut off as soon as it exceeds the size
// limit, and every entry is decompressed with a running counter so headers
// that under-report sizes cannot smuggle a decompression bomb through.
func (v *Validator) Validate(ctx context.Context, r io.Reader) (*Archive, error) {
	data, err := v.readLimited(ctx, r)
	if err != nil {
		return nil, err
	}
	return v.ValidateBytes(ctx, data)
}

// ValidateBytes validates an archive that is already in memory.
func (v *Validator) ValidateBytes(ctx context.Context, data []byte) (*Archive, error) {
	if int64(len(data)) > v.opts.MaxSizeBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), v.opts.MaxSizeBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, fmt.Errorf("%w: %v", ErrNotAZip, err)
	}

	entries, err := v.collectEntries(zr)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		CompressedSize: int64(len(data)),
		data:           data,
	}
	if err := v.measure(ctx, a, entries); err != nil {
		return nil, err
	}
	if a.FileCount == 0 {
		return nil, ErrEmptyArchive
	}

	root, err := v.findRoot(entries)
	if err != nil {
		return nil, err
	}
	a.Root = root
	a.EntryPoint = v.opts.EntryPoint
	a.Entries = entries

	sum := blake2b.Sum256(data)
	a.Digest = hex.EncodeToString(sum[:])
	return a, nil
}

func (v *Validator) readLimited(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	limited := io.LimitReader(&ctxReader{ctx: ctx, r: r}, v.opts.MaxSizeBytes+1)
	if _, err := buf.ReadFrom(limited); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if int64(buf.Len()) > v.opts.MaxSizeBytes {
		return nil, fmt.Errorf("%w: upload exceeds limit of %d bytes", ErrTooLarge, v.opts.MaxSizeBytes)
	}
	return buf.Bytes(), nil
}

// collectEntries normalizes names and rejects unsafe entries.
func (v *Validator) collectEntries(zr *zip.Reader) ([]Entry, error) {
	seen := make(map[string]struct{}, len(zr.File))
	files := make(map[string]struct{}, len(zr.File))
	dirs := make(map[string]struct{})
	entries := make([]Entry, 0, len(zr.File))

	for _, f := range zr.File {
		name, err := normalizeName(f.Name)
		if err != nil {
			return nil, err
		}
		if name == "" || isJunk(name) {
			continue
		}

		mode := f.Mode()
		kind := KindFile
		switch {
		case mode&fs.ModeSymlink != 0:
			kind = KindSymlink
		case mode.IsDir():
			kind = KindDir
		case !mode.IsRegular():
			return nil, fmt.Errorf("%w: %q is not a regular file", ErrPathTraversal, f.Name)
		}

		if _, dup := seen[name]; dup && kind != KindDir {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateEntry, name)
		}
		seen[name] = struct{}{}

		// A path cannot be both a file and a directory on disk.
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if _, ok := files[dir]; ok {
				return nil, fmt.Errorf("%w: %q is inside file %q", ErrDuplicateEntry, name, dir)
			}
			dirs[dir] = struct{}{}
		}
		if kind == KindDir {
			if _, ok := files[name]; ok {
				return nil, fmt.Errorf("%w: %q is both a file and a directory", ErrDuplicateEntry, name)
			}
			dirs[name] = struct{}{}
		} else {
			if _, ok := dirs[name]; ok {
				return nil, fmt.Errorf("%w: %q is both a file and a directory", ErrDuplicateEntry, name)
			}
			files[name] = struct{}{}
		}

		if kind == KindSymlink {
			target, err := readSymlinkTarget(f)
			if err != nil {
				return nil, err
			}
			if symlinkEscapes(name, target) {
				return nil, fmt.Errorf("%w: symlink %q -> %q", ErrPathTraversal, f.Name, target)
			}
		}

		entries = append(entries, Entry{Name: name, Kind: kind, file: f})
	}
	return entries, nil
}

// measure decompresses every file entry into io.Discard, enforcing the size
// and ratio limits on the bytes actually produced.
func (v *Validator) measure(ctx context.Context, a *Archive, entries []Entry) error {
	sizeLimit := v.opts.MaxSizeBytes
	ratioLimit := int64(math.MaxInt64)
	if r := v.opts.MaxUncompressedRatio * float64(a.CompressedSize); r < math.MaxInt64 {
		ratioLimit = int64(r)
	}

	var total int64
	for i := range entries {
		e := &entries[i]
		if e.Kind != KindFile {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := sizeLimit - total
		if ratioLimit-total < remaining {
			remaining = ratioLimit - total
		}

		rc, err := e.file.Open()
		if err != nil {
			return fmt.Errorf("%w: open %q: %v", ErrNotAZip, e.Name, err)
		}
		n, err := io.Copy(io.Discard, io.LimitReader(rc, remaining+1))
		rc.Close()
		if err != nil {
			return fmt.Errorf("%w: read %q: %v", ErrNotAZip, e.Name, err)
		}

		total += n
		if total > sizeLimit {
			return fmt.Errorf("%w: uncompressed content exceeds limit of %d bytes", ErrTooLarge, sizeLimit)
		}
		if total > ratioLimit {
			return fmt.Errorf("%w: compression ratio exceeds %.0f:1", ErrTooLarge, v.opts.MaxUncompressedRatio)
		}

		e.Size = n
		a.FileCount++
	}
	a.UncompressedSize = total
	return nil
}

// findRoot locates the entry point at the archive root or inside a single
// wrapping folder and returns the prefix extraction must strip.
func (v *Validator) findRoot(entries []Entry) (string, error) {
	var candidates []string
	for _, e := range entries {
		if e.Kind != KindFile {
			continue
		}
		if e.Name == v.opts.EntryPoint {
			return "", nil
		}
		dir, base := path.Split(e.Name)
		if base == v.opts.EntryPoint && strings.Count(dir, "/") == 1 {
			candidates = append(candidates, dir)
		}
	}

	if len(candidates) != 1 {
		return "", fmt.Errorf("%w: %q must be at the archive root or inside a single top-level folder", ErrMissingEntryPoint, v.opts.EntryPoint)
	}

	root := candidates[0]
	for _, e := range entries {
		if e.Name+"/" == root {
			continue
		}
		if !strings.HasPrefix(e.Name, root) {
			return "", fmt.Errorf("%w: %q found under %q but other top-level entries exist", ErrMissingEntryPoint, v.opts.EntryPoint, strings.TrimSuffix(root, "/"))
		}
	}
	return root, nil
}

func readSymlinkTarget(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open symlink %q: %v", ErrNotAZip, f.Name, err)
	}
	defer rc.Close()

	target, err := io.ReadAll(io.LimitReader(rc, maxSymlinkTarget))
	if err != nil {
		return "", fmt.Errorf("%w: read symlink %q: %v", ErrNotAZip, f.Name, err)
	}
	return string(target), nil
}

// ctxReader stops reading once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
