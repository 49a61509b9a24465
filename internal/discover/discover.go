// Package discover finds the Python modules of a project.
package discover

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/docpatch/internal/lang"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to project root
	Language string
}

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	"site-packages": {},
	"venv":          {},
	"env":           {},
	"build":         {},
	"dist":          {},
	"egg-info":      {},
}

// skipFiles are package entry points whose docstrings are left alone.
var skipFiles = map[string]struct{}{
	"__init__.py": {},
	"__main__.py": {},
}

// Files discovers patchable Python modules under root. Hidden files and
// directories (including the .docpatch staging area), virtualenvs and
// caches are skipped. Inside a git work tree only tracked or unignored files
// are returned; otherwise the root .gitignore is honoured.
func Files(root string) ([]FileEntry, error) {
	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") {
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[filepath.ToSlash(rel)]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}

		if entry, ok := entryFor(rel); ok {
			results = append(results, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

// entryFor reports whether rel names a module docpatch edits.
func entryFor(rel string) (FileEntry, bool) {
	name := filepath.Base(rel)
	if _, skip := skipFiles[name]; skip {
		return FileEntry{}, false
	}
	// Type stubs carry no implementation to document.
	if filepath.Ext(name) != ".py" {
		return FileEntry{}, false
	}
	langName := lang.ForExtension(".py")
	if langName == "" {
		return FileEntry{}, false
	}
	return FileEntry{Path: rel, Language: langName}, true
}

// Resolve turns a command-line path into a project root and the files to
// process. A directory is walked with Files; a single .py file is processed
// on its own with its directory as the root.
func Resolve(path string) (string, []FileEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, fmt.Errorf("path: %w", err)
	}

	if info.IsDir() {
		files, err := Files(abs)
		if err != nil {
			return "", nil, fmt.Errorf("discovering files: %w", err)
		}
		return abs, files, nil
	}

	root, rel := filepath.Dir(abs), filepath.Base(abs)
	if filepath.Ext(rel) != ".py" {
		return "", nil, fmt.Errorf("%s: not a Python file", path)
	}
	return root, []FileEntry{{Path: rel, Language: lang.ForExtension(".py")}}, nil
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
