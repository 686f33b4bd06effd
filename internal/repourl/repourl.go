// Package repourl normalises git remote URLs into stable repository identities.
package repourl

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const (
	gitSuffix    = ".git"
	localScheme  = "local://"
	githubHost   = "github.com"
	sshUserSplit = "@"
)

// Identity is the owner/name pair a remote URL points at.
type Identity struct {
	Host  string
	Owner string
	Name  string
}

// FullName returns "owner/name", or just the name when the owner is unknown.
func (id Identity) FullName() string {
	if id.Owner == "" {
		return id.Name
	}
	return id.Owner + "/" + id.Name
}

// TrimGitSuffix removes one trailing ".git".
func TrimGitSuffix(u string) string {
	return strings.TrimSuffix(u, gitSuffix)
}

// WithGitSuffix appends ".git" unless it is already present.
func WithGitSuffix(u string) string {
	if strings.HasSuffix(u, gitSuffix) {
		return u
	}
	return u + gitSuffix
}

// LocalURL synthesises a stable pseudo URL for a clone without a configured remote.
func LocalURL(dir string) string {
	return localScheme + filepath.ToSlash(filepath.Clean(dir))
}

// IsLocal reports whether u was produced by LocalURL.
func IsLocal(u string) bool {
	return strings.HasPrefix(u, localScheme)
}

// Parse extracts host, owner and name from the common git URL shapes:
//   - https://host/owner/name(.git)
//   - ssh://git@host[:port]/owner/name(.git)
//   - git://host/owner/name(.git)
//   - git@host:owner/name(.git)
//   - local://some/dir/name
func Parse(raw string) (Identity, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, false
	}

	if IsLocal(raw) {
		name := path.Base(strings.TrimPrefix(raw, localScheme))
		if name == "." || name == "/" {
			return Identity{}, false
		}
		return Identity{Name: name}, true
	}

	var host, p string
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Identity{}, false
		}
		host, p = u.Hostname(), u.Path
	} else if at := strings.Index(raw, sshUserSplit); at >= 0 && strings.Contains(raw[at:], ":") {
		// scp-like syntax: user@host:owner/name.git
		rest := raw[at+1:]
		colon := strings.Index(rest, ":")
		host, p = rest[:colon], rest[colon+1:]
	} else {
		return Identity{}, false
	}

	segments := strings.FieldsFunc(TrimGitSuffix(strings.TrimSuffix(p, "/")), func(r rune) bool { return r == '/' })
	switch len(segments) {
	case 0:
		return Identity{}, false
	case 1:
		return Identity{Host: strings.ToLower(host), Name: segments[0]}, true
	default:
		n := len(segments)
		return Identity{
			Host:  strings.ToLower(host),
			Owner: segments[n-2],
			Name:  segments[n-1],
		}, true
	}
}

// IsGitHub reports whether the URL points at github.com.
func IsGitHub(raw string) bool {
	id, ok := Parse(raw)
	return ok && id.Host == githubHost
}

// NormalizeFullName turns a list member link such as "/Owner/Repo", "https://github.com/owner/repo.git"
// or "owner/repo" into a lower-cased "owner/repo" key.
func NormalizeFullName(href string) string {
	href = strings.TrimSpace(href)
	if strings.Contains(href, "://") {
		if u, err := url.Parse(href); err == nil {
			href = u.Path
		}
	}
	href = strings.Trim(href, "/")
	href = TrimGitSuffix(href)
	return strings.ToLower(href)
}
