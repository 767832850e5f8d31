package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hairizuan-noorazman/spahost/archive"
	"github.com/hairizuan-noorazman/spahost/logger"
	"github.com/hairizuan-noorazman/spahost/storage"
)

var (
	// ErrIO wraps filesystem failures during extraction.
	ErrIO = errors.New("extraction i/o failure")

	// ErrQuotaExceeded is returned when the extracted bytes exceed the ceiling.
	ErrQuotaExceeded = errors.New("extraction quota exceeded")

	// ErrTraversalAttempt is returned when an entry would be written outside the staging directory.
	ErrTraversalAttempt = errors.New("extraction path escapes staging directory")
)

// Location describes a fully extracted staging directory.
type Location struct {
	StagingDir string
	SizeBytes  int64
	FileCount  int
	EntryPoint string
}

// Extractor writes validated archives into isolated staging directories.
type Extractor struct {
	tree     *storage.Tree
	maxBytes int64
	logger   logger.Logger
}

// NewExtractor creates an extractor that stages under tree and aborts once
// more than maxBytes have been written.
func NewExtractor(tree *storage.Tree, maxBytes int64, log logger.Logger) *Extractor {
	if maxBytes <= 0 {
		maxBytes = archive.DefaultMaxSizeBytes
	}
	return &Extractor{
		tree:     tree,
		maxBytes: maxBytes,
		logger:   log,
	}
}

// Extract writes every file of a into a new staging directory, stripping the
// wrapping folder. On any failure, including cancellation, the staging
// directory is removed before the error is returned.
func (x *Extractor) Extract(ctx context.Context, a *archive.Archive) (loc *Location, err error) {
	dir, err := x.tree.NewStagingDir()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := x.tree.Discard(dir); rmErr != nil {
			x.logger.Error(ctx, "failed to remove staging directory", map[string]interface{}{
				"staging_dir": dir,
				"error":       rmErr.Error(),
			})
		}
	}()

	loc = &Location{StagingDir: dir, EntryPoint: a.EntryPoint}
	for _, entry := range a.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Name+"/" == a.Root {
			continue
		}

		rel := a.RelativeName(entry)
		target, err := storage.SafeJoin(dir, rel)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrTraversalAttempt, entry.Name, err)
		}

		switch entry.Kind {
		case archive.KindDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
		case archive.KindSymlink:
			x.logger.Warn(ctx, "skipping symlink entry", map[string]interface{}{
				"entry": entry.Name,
			})
		case archive.KindFile:
			n, err := x.writeFile(a, entry, target, x.maxBytes-loc.SizeBytes)
			if err != nil {
				return nil, err
			}
			loc.SizeBytes += n
			loc.FileCount++
		}
	}

	entryPoint, err := storage.SafeJoin(dir, a.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTraversalAttempt, err)
	}
	if info, statErr := os.Stat(entryPoint); statErr != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: entry point %q missing after extraction", ErrIO, a.EntryPoint)
	}

	x.logger.Debug(ctx, "archive extracted", map[string]interface{}{
		"staging_dir": dir,
		"files":       loc.FileCount,
		"bytes":       loc.SizeBytes,
	})
	return loc, nil
}

func (x *Extractor) writeFile(a *archive.Archive, entry archive.Entry, target string, remaining int64) (int64, error) {
	if remaining < 0 {
		remaining = 0
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	rc, err := a.Open(entry)
	if err != nil {
		return 0, fmt.Errorf("%w: open %q: %v", ErrIO, entry.Name, err)
	}
	defer rc.Close()

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(rc, remaining+1))
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("%w: write %q: %v", ErrIO, entry.Name, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: close %q: %v", ErrIO, entry.Name, closeErr)
	}
	if n > remaining {
		return n, fmt.Errorf("%w: limit of %d bytes reached at %q", ErrQuotaExceeded, x.maxBytes, entry.Name)
	}
	return n, nil
}
