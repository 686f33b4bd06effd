// internal/model/models.go
package model

import (
	"time"
)

// Repository represents the metadata of a GitHub repository as returned by the API.
// Owner and license are flattened; RemoteID is nil when the payload carried a null id.
type Repository struct {
	RemoteID        *int64
	Owner           string
	OwnerID         *int64
	OwnerType       string
	OwnerURL        string
	Name            string
	FullName        string
	Description     *string
	HTMLURL         string
	CloneURL        string
	SSHURL          string
	GitURL          string
	Homepage        *string
	Language        *string
	LicenseKey      *string
	LicenseName     *string
	LicenseSPDXID   *string
	Topics          []string
	Visibility      string
	DefaultBranch   string
	Private         bool
	Fork            bool
	Archived        bool
	Disabled        bool
	HasIssues       bool
	HasProjects     bool
	HasWiki         bool
	HasPages        bool
	HasDiscussions  bool
	StarsCount      int
	WatchersCount   int
	ForksCount      int
	OpenIssuesCount int
	Size            int
	RepoCreatedAt   *time.Time
	RepoUpdatedAt   *time.Time
	PushedAt        *time.Time

	// StarredAt is only set for records that came from the starred collection.
	StarredAt *time.Time
}

// URLs returns every non-empty URL the remote reports for the repository.
func (r Repository) URLs() []string {
	var urls []string
	for _, u := range []string{r.HTMLURL, r.CloneURL, r.SSHURL, r.GitURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ListMeta describes one curated star list scraped from the profile page.
type ListMeta struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	CountText     string `json:"count_text"`
	DeclaredCount int    `json:"declared_count"`
}

// ListEntry is the per-list cache document: the list metadata plus its member links.
type ListEntry struct {
	ListMeta
	Hrefs []string `json:"hrefs"`
}

// ListMembership maps a list name to the repository links found on the list's pages.
type ListMembership map[string][]string

// Quota is the remaining budget for one rate-limited API resource.
type Quota struct {
	Resource  string
	Limit     int
	Remaining int
	Reset     time.Time
}

// FolderStats is what the local filesystem reports for a clone directory.
type FolderStats struct {
	SizeBytes  int64
	FileCount  int
	DirCount   int
	CreatedAt  *time.Time
	ModifiedAt time.Time
	AccessedAt *time.Time
}
