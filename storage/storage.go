package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrFileNotFound is returned when a requested file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned when a path is invalid or contains path traversal.
	ErrInvalidPath = errors.New("invalid path")
)

// BlobStorage stores opaque objects such as the original upload archives.
type BlobStorage interface {
	// Upload stores data from the reader at the specified path.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download retrieves data from the specified path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the data at the specified path.
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the specified path.
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveKey returns the blob key under which the archive of a version is mirrored.
func ArchiveKey(slug, version string) string {
	return path.Join("archives", slug, version+".zip")
}

// NewBlobStorage creates a BlobStorage implementation based on configuration.
// A type of "none" or "" returns nil storage and no error.
func NewBlobStorage(storageType string, config map[string]interface{}) (BlobStorage, error) {
	switch strings.ToLower(storageType) {
	case "", "none":
		return nil, nil

	case "local":
		baseDir, ok := config["base_dir"].(string)
		if !ok || baseDir == "" {
			return nil, fmt.Errorf("base_dir is required for local storage")
		}
		return NewLocalStorage(baseDir)

	case "s3":
		bucket, ok := config["bucket"].(string)
		if !ok || bucket == "" {
			return nil, fmt.Errorf("bucket is required for S3 storage")
		}
		region, ok := config["region"].(string)
		if !ok || region == "" {
			return nil, fmt.Errorf("region is required for S3 storage")
		}

		s3Storage, err := NewS3Storage(bucket, region)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		if prefix, ok := config["prefix"].(string); ok {
			s3Storage.prefix = strings.Trim(prefix, "/")
		}
		if timeout, ok := config["timeout"].(time.Duration); ok && timeout > 0 {
			s3Storage.timeout = timeout
		}
		return s3Storage, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// SafeJoin joins rel onto base and guarantees the result stays inside base.
// rel is treated as slash-separated; absolute paths and ".." escapes are rejected.
func SafeJoin(base, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute paths not allowed", ErrInvalidPath)
	}

	base = filepath.Clean(base)
	fullPath := filepath.Join(base, filepath.FromSlash(rel))

	relPath, err := filepath.Rel(base, fullPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidPath)
	}

	return fullPath, nil
}

// validateKey validates a blob key to prevent path traversal attacks.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: backslashes not allowed", ErrInvalidPath)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: absolute paths not allowed", ErrInvalidPath)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: path traversal detected", ErrInvalidPath)
		}
	}
	return nil
}
