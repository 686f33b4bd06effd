package database

import (
	"time"
)

type CacheEntry struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ExpandedRepo struct {
	RepoID          int64      `json:"repo_id"`
	CacheKey        string     `json:"cache_key"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	OwnerLogin      string     `json:"owner_login"`
	OwnerID         *int64     `json:"owner_id"`
	OwnerType       string     `json:"owner_type"`
	OwnerUrl        string     `json:"owner_url"`
	LicenseKey      *string    `json:"license_key"`
	LicenseName     *string    `json:"license_name"`
	LicenseSpdxID   *string    `json:"license_spdx_id"`
	Description     *string    `json:"description"`
	HtmlUrl         string     `json:"html_url"`
	CloneUrl        string     `json:"clone_url"`
	SshUrl          string     `json:"ssh_url"`
	GitUrl          string     `json:"git_url"`
	Homepage        *string    `json:"homepage"`
	Language        *string    `json:"language"`
	Topics          string     `json:"topics"`
	Visibility      string     `json:"visibility"`
	DefaultBranch   string     `json:"default_branch"`
	Private         bool       `json:"private"`
	Fork            bool       `json:"fork"`
	Archived        bool       `json:"archived"`
	Disabled        bool       `json:"disabled"`
	HasIssues       bool       `json:"has_issues"`
	HasProjects     bool       `json:"has_projects"`
	HasWiki         bool       `json:"has_wiki"`
	HasPages        bool       `json:"has_pages"`
	HasDiscussions  bool       `json:"has_discussions"`
	StargazersCount int32      `json:"stargazers_count"`
	WatchersCount   int32      `json:"watchers_count"`
	ForksCount      int32      `json:"forks_count"`
	OpenIssuesCount int32      `json:"open_issues_count"`
	Size            int32      `json:"size"`
	RepoCreatedAt   *time.Time `json:"repo_created_at"`
	RepoUpdatedAt   *time.Time `json:"repo_updated_at"`
	PushedAt        *time.Time `json:"pushed_at"`
	ExpandedAt      time.Time  `json:"expanded_at"`
}

type GitRepo struct {
	ID              int64      `json:"id"`
	GitUrl          string     `json:"git_url"`
	Owner           string     `json:"owner"`
	Name            string     `json:"name"`
	FullName        string     `json:"full_name"`
	Starred         bool       `json:"starred"`
	StarredAt       *time.Time `json:"starred_at"`
	DupeFlag        bool       `json:"dupe_flag"`
	DupeCount       int32      `json:"dupe_count"`
	RemoteID        *int64     `json:"remote_id"`
	Description     *string    `json:"description"`
	HtmlUrl         string     `json:"html_url"`
	CloneUrl        string     `json:"clone_url"`
	SshUrl          string     `json:"ssh_url"`
	Language        *string    `json:"language"`
	License         *string    `json:"license"`
	Topics          string     `json:"topics"`
	Visibility      string     `json:"visibility"`
	Private         bool       `json:"private"`
	Fork            bool       `json:"fork"`
	Archived        bool       `json:"archived"`
	StargazersCount int32      `json:"stargazers_count"`
	ForksCount      int32      `json:"forks_count"`
	WatchersCount   int32      `json:"watchers_count"`
	OpenIssuesCount int32      `json:"open_issues_count"`
	HasIssues       bool       `json:"has_issues"`
	HasWiki         bool       `json:"has_wiki"`
	HasPages        bool       `json:"has_pages"`
	DefaultBranch   string     `json:"default_branch"`
	RepoCreatedAt   *time.Time `json:"repo_created_at"`
	RepoUpdatedAt   *time.Time `json:"repo_updated_at"`
	PushedAt        *time.Time `json:"pushed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type GitFolder struct {
	ID           int64      `json:"id"`
	Path         string     `json:"path"`
	Valid        bool       `json:"valid"`
	RepoID       *int64     `json:"repo_id"`
	SizeBytes    int64      `json:"size_bytes"`
	FileCount    int32      `json:"file_count"`
	DirCount     int32      `json:"dir_count"`
	FsCreatedAt  *time.Time `json:"fs_created_at"`
	FsModifiedAt *time.Time `json:"fs_modified_at"`
	FsAccessedAt *time.Time `json:"fs_accessed_at"`
	ScanCount    int32      `json:"scan_count"`
	FirstSeenAt  time.Time  `json:"first_seen_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
}

type GitList struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Url           string    `json:"url"`
	DeclaredCount int32     `json:"declared_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type GitStar struct {
	ID              int64      `json:"id"`
	RepoID          int64      `json:"repo_id"`
	ListID          *int64     `json:"list_id"`
	StarredAt       *time.Time `json:"starred_at"`
	Description     *string    `json:"description"`
	StargazersCount int32      `json:"stargazers_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
