package gitlocal

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultExcludeDirs are directory names never descended into while scanning.
var DefaultExcludeDirs = []string{
	"node_modules",
	"vendor",
	".cache",
	".npm",
	".yarn",
	"__pycache__",
	".venv",
	"venv",
	".tox",
	"target",
	".gradle",
	".m2",
	".cargo",
	".rustup",
}

// Scan walks the given roots and returns every directory holding a .git directory
// with a readable config file. Clones are not descended into.
func Scan(ctx context.Context, logger *slog.Logger, roots []string, exclude []string) ([]string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	seen := map[string]bool{}
	var found []string

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", root, err)
		}
		if _, err := os.Stat(absRoot); err != nil {
			logger.Warn("Scan root is not accessible", "root", absRoot, "error", err)
			continue
		}

		err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				logger.Debug("Skipping unreadable path", "path", p, "error", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if p != absRoot && skip[d.Name()] {
				return fs.SkipDir
			}
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			if HasGitConfig(p) {
				if !seen[p] {
					seen[p] = true
					found = append(found, p)
				}
				return fs.SkipDir
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", absRoot, err)
		}
	}

	sort.Strings(found)
	logger.Info("Local scan finished", "roots", len(roots), "clones", len(found))
	return found, nil
}
