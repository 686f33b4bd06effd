// Package gitlocal inspects local git clones: discovery, remote URL and filesystem stats.
package gitlocal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"

	"repo-catalog/internal/model"
)

// NoRemote is returned by RemoteURL when the clone has no readable origin.
const NoRemote = "[no remote]"

const remoteTimeout = 10 * time.Second

// ErrNotAClone is returned by Stat when the directory has no readable .git/config.
var ErrNotAClone = errors.New("directory is not a git clone")

// Inspector reads clone metadata through the git executable and the filesystem.
type Inspector struct {
	GitPath string
	logger  *slog.Logger
}

// NewInspector locates git on PATH.
func NewInspector(logger *slog.Logger) *Inspector {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		logger.Warn("git executable not found, remote URLs will be unavailable", "error", err)
	}
	return &Inspector{GitPath: gitPath, logger: logger}
}

// RemoteURL returns the origin URL configured for the clone at dir, or NoRemote.
func (i *Inspector) RemoteURL(ctx context.Context, dir string) string {
	if i.GitPath == "" {
		return NoRemote
	}
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, i.GitPath, "-C", dir, "config", "--get", "remote.origin.url")
	out, err := cmd.Output()
	if err != nil {
		i.logger.Debug("No remote configured", "path", dir, "error", err)
		return NoRemote
	}
	u := strings.TrimSpace(string(out))
	if u == "" {
		return NoRemote
	}
	return u
}

// HasGitConfig reports whether dir contains a readable .git/config file.
func HasGitConfig(dir string) bool {
	f, err := os.Open(filepath.Join(dir, ".git", "config"))
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Stat walks dir and reports its size, file and directory counts and timestamps.
// It returns an error wrapping fs.ErrNotExist when dir is gone and ErrNotAClone when
// it has no readable .git/config.
func (i *Inspector) Stat(dir string) (model.FolderStats, error) {
	ts, err := times.Stat(dir)
	if err != nil {
		return model.FolderStats{}, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !HasGitConfig(dir) {
		return model.FolderStats{}, fmt.Errorf("%s: %w", dir, ErrNotAClone)
	}

	stats := model.FolderStats{ModifiedAt: ts.ModTime()}
	accessed := ts.AccessTime()
	stats.AccessedAt = &accessed
	switch {
	case ts.HasBirthTime():
		created := ts.BirthTime()
		stats.CreatedAt = &created
	case ts.HasChangeTime():
		changed := ts.ChangeTime()
		stats.CreatedAt = &changed
	}

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped rather than failing the whole folder.
			if d != nil && d.IsDir() && p != dir {
				return fs.SkipDir
			}
			return nil
		}
		if p == dir {
			return nil
		}
		if d.IsDir() {
			stats.DirCount++
			return nil
		}
		stats.FileCount++
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			stats.SizeBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return model.FolderStats{}, fmt.Errorf("walking %s: %w", dir, err)
	}
	return stats, nil
}
