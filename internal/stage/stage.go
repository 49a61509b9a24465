// Package stage keeps patched files out of the project tree until they are
// reviewed. Staged copies live under <root>/.docpatch/improved and
// originals replaced by Apply are backed up under <root>/.docpatch/backups,
// both mirroring the project layout.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir is the staging directory name under the project root.
const Dir = ".docpatch"

var (
	// ErrNotRelative is returned for paths that are absolute or escape the
	// project root.
	ErrNotRelative = errors.New("path must be relative to the project root")

	// ErrNotStaged is returned by Apply when no staged copy exists.
	ErrNotStaged = errors.New("no staged copy")
)

// FileSystem maps project-relative paths to their original, staged and
// backup locations.
type FileSystem struct {
	root string
}

// New returns a FileSystem for the project at root.
func New(root string) *FileSystem {
	return &FileSystem{root: root}
}

// Root returns the project root.
func (s *FileSystem) Root() string { return s.root }

// OriginalPath returns the location of rel in the project.
func (s *FileSystem) OriginalPath(rel string) string {
	return filepath.Join(s.root, rel)
}

// StagedPath returns the location of the staged copy of rel.
func (s *FileSystem) StagedPath(rel string) string {
	return filepath.Join(s.root, Dir, "improved", rel)
}

// BackupPath returns the location of the backup of rel.
func (s *FileSystem) BackupPath(rel string) string {
	return filepath.Join(s.root, Dir, "backups", rel)
}

func checkRelative(rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrNotRelative, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrNotRelative, rel)
	}
	return nil
}

// Read returns the original contents of rel.
func (s *FileSystem) Read(rel string) ([]byte, error) {
	if err := checkRelative(rel); err != nil {
		return nil, err
	}
	return os.ReadFile(s.OriginalPath(rel))
}

// Stage writes code as the staged copy of rel.
func (s *FileSystem) Stage(rel string, code []byte) error {
	if err := checkRelative(rel); err != nil {
		return err
	}
	return writeFile(s.StagedPath(rel), code, 0o644)
}

// Apply backs up the original of rel and replaces it with the staged copy.
// The staged copy is removed afterwards.
func (s *FileSystem) Apply(rel string) error {
	if err := checkRelative(rel); err != nil {
		return err
	}
	staged, err := os.ReadFile(s.StagedPath(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", rel, ErrNotStaged)
	}
	if err != nil {
		return err
	}

	orig := s.OriginalPath(rel)
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(orig); err == nil {
		mode = info.Mode().Perm()
		data, err := os.ReadFile(orig)
		if err != nil {
			return err
		}
		if err := writeFile(s.BackupPath(rel), data, mode); err != nil {
			return fmt.Errorf("backing up %s: %w", rel, err)
		}
	}

	if err := writeFile(orig, staged, mode); err != nil {
		return fmt.Errorf("applying %s: %w", rel, err)
	}
	return s.Discard(rel)
}

// Discard removes the staged copy of rel, if any.
func (s *FileSystem) Discard(rel string) error {
	if err := checkRelative(rel); err != nil {
		return err
	}
	err := os.Remove(s.StagedPath(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Staged lists the relative paths of all staged copies, sorted.
func (s *FileSystem) Staged() ([]string, error) {
	base := filepath.Join(s.root, Dir, "improved")
	var rels []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == base {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

// IsFresh reports whether rel has a staged copy at least as new as the
// original.
func (s *FileSystem) IsFresh(rel string) bool {
	staged, err := os.Stat(s.StagedPath(rel))
	if err != nil {
		return false
	}
	orig, err := os.Stat(s.OriginalPath(rel))
	if err != nil {
		return false
	}
	return !staged.ModTime().Before(orig.ModTime())
}

// writeFile writes data through a temporary file in the target directory
// and renames it into place.
func writeFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".docpatch-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
