package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	stagingDirName = ".staging"
	trashDirName   = ".trash"
)

// ErrVersionExists is returned by Promote when the target version directory is already present.
var ErrVersionExists = errors.New("version directory already exists")

// Tree manages the on-disk layout of extracted projects:
//
//	<root>/<slug>/<version>/...   immutable version content
//	<root>/.staging/<id>/         in-progress extractions
//	<root>/.trash/<id>/           directories awaiting removal
type Tree struct {
	root string
}

// NewTree creates the storage root along with its staging and trash areas.
func NewTree(root string) (*Tree, error) {
	root = filepath.Clean(root)
	if root == "" || root == "." {
		return nil, fmt.Errorf("%w: storage root cannot be empty", ErrInvalidPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	for _, dir := range []string{abs, filepath.Join(abs, stagingDirName), filepath.Join(abs, trashDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Tree{root: abs}, nil
}

// Root returns the absolute storage root.
func (t *Tree) Root() string {
	return t.root
}

// StagingRoot returns the directory that holds in-progress extractions.
func (t *Tree) StagingRoot() string {
	return filepath.Join(t.root, stagingDirName)
}

// NewStagingDir creates a fresh, uniquely named staging directory.
func (t *Tree) NewStagingDir() (string, error) {
	dir := filepath.Join(t.StagingRoot(), uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// ProjectDir returns the directory holding every version of slug.
func (t *Tree) ProjectDir(slug string) (string, error) {
	if err := validateComponent(slug); err != nil {
		return "", err
	}
	return filepath.Join(t.root, slug), nil
}

// VersionDir returns the directory of one immutable version of slug.
func (t *Tree) VersionDir(slug, version string) (string, error) {
	if err := validateComponent(slug); err != nil {
		return "", err
	}
	if err := validateComponent(version); err != nil {
		return "", err
	}
	return filepath.Join(t.root, slug, version), nil
}

// Promote atomically renames a staging directory to its final version path.
// If the version is already present the staging directory is left untouched
// and ErrVersionExists is returned alongside the existing path.
func (t *Tree) Promote(stagingDir, slug, version string) (string, error) {
	if !t.isStaging(stagingDir) {
		return "", fmt.Errorf("%w: %s is not a staging directory", ErrInvalidPath, stagingDir)
	}
	final, err := t.VersionDir(slug, version)
	if err != nil {
		return "", err
	}
	if t.Exists(final) {
		return final, ErrVersionExists
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := os.Rename(stagingDir, final); err != nil {
		if t.Exists(final) {
			return final, ErrVersionExists
		}
		return "", fmt.Errorf("failed to promote staging directory: %w", err)
	}
	return final, nil
}

// Discard removes a staging directory. Paths outside the staging area are refused.
func (t *Tree) Discard(stagingDir string) error {
	if !t.isStaging(stagingDir) {
		return fmt.Errorf("%w: %s is not a staging directory", ErrInvalidPath, stagingDir)
	}
	return os.RemoveAll(stagingDir)
}

// RemoveVersion deletes a single version directory.
func (t *Tree) RemoveVersion(slug, version string) error {
	dir, err := t.VersionDir(slug, version)
	if err != nil {
		return err
	}
	return t.removeViaTrash(dir)
}

// RemoveProject deletes every version of slug. The project directory is first
// renamed into the trash area so it disappears from the tree in one step.
func (t *Tree) RemoveProject(slug string) error {
	dir, err := t.ProjectDir(slug)
	if err != nil {
		return err
	}
	return t.removeViaTrash(dir)
}

// Exists reports whether path exists as a directory.
func (t *Tree) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Slugs lists the project directories present on disk.
func (t *Tree) Slugs() ([]string, error) {
	return listDirs(t.root, func(name string) bool { return !strings.HasPrefix(name, ".") })
}

// Versions lists the version directories present for slug.
func (t *Tree) Versions(slug string) ([]string, error) {
	dir, err := t.ProjectDir(slug)
	if err != nil {
		return nil, err
	}
	versions, err := listDirs(dir, nil)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return versions, err
}

// StagingDirs lists leftover staging directories.
func (t *Tree) StagingDirs() ([]string, error) {
	names, err := listDirs(t.StagingRoot(), nil)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(t.StagingRoot(), n)
	}
	return paths, nil
}

// EmptyTrash removes everything left in the trash area.
func (t *Tree) EmptyTrash() (int, error) {
	trash := filepath.Join(t.root, trashDirName)
	names, err := listDirs(trash, nil)
	if err != nil {
		return 0, err
	}
	for _, n := range names {
		if err := os.RemoveAll(filepath.Join(trash, n)); err != nil {
			return 0, fmt.Errorf("failed to empty trash: %w", err)
		}
	}
	return len(names), nil
}

func (t *Tree) removeViaTrash(dir string) error {
	trashed := filepath.Join(t.root, trashDirName, uuid.NewString())
	if err := os.Rename(dir, trashed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to move %s to trash: %w", dir, err)
	}
	if err := os.RemoveAll(trashed); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

func (t *Tree) isStaging(dir string) bool {
	rel, err := filepath.Rel(t.StagingRoot(), filepath.Clean(dir))
	return err == nil && rel != "." && !strings.Contains(rel, string(filepath.Separator)) && !strings.HasPrefix(rel, "..")
}

func validateComponent(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidPath, name)
	}
	return nil
}

func listDirs(dir string, keep func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if keep != nil && !keep(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
