package github

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/go-github/v62/github"

	custom_errors "repo-catalog/internal/errors"
	"repo-catalog/internal/model"
)

// DecodeRepositories parses a payload holding either one repository object or an array of
// them. Array items that do not decode are logged and skipped.
func DecodeRepositories(payload []byte, logger *slog.Logger) ([]model.Repository, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &custom_errors.DecodeError{What: "repository array", Err: err}
		}
		out := make([]model.Repository, 0, len(items))
		for i, item := range items {
			var r *github.Repository
			if err := json.Unmarshal(item, &r); err != nil {
				logger.Warn("Skipping undecodable repository", "index", i,
					"error", &custom_errors.DecodeError{What: "repository item", Err: err})
				continue
			}
			if r != nil {
				out = append(out, ToInternalRepository(r))
			}
		}
		return out, nil
	}

	var repo github.Repository
	if err := json.Unmarshal(trimmed, &repo); err != nil {
		return nil, &custom_errors.DecodeError{What: "repository object", Err: err}
	}
	return []model.Repository{ToInternalRepository(&repo)}, nil
}

// DecodeStarred parses items of the starred collection. Items fetched with the star
// media type carry {"starred_at", "repo"}; plain repository objects are accepted too.
// Items that do not decode are logged and skipped.
func DecodeStarred(items []json.RawMessage, logger *slog.Logger) []model.Repository {
	out := make([]model.Repository, 0, len(items))
	for i, item := range items {
		r, err := decodeStarredItem(item)
		if err != nil {
			logger.Warn("Skipping undecodable starred item", "index", i, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out
}

func decodeStarredItem(item json.RawMessage) (model.Repository, error) {
	var starred github.StarredRepository
	if err := json.Unmarshal(item, &starred); err != nil {
		return model.Repository{}, &custom_errors.DecodeError{What: "starred item", Err: err}
	}
	if starred.Repository == nil {
		var repo github.Repository
		if err := json.Unmarshal(item, &repo); err != nil {
			return model.Repository{}, &custom_errors.DecodeError{What: "starred repository", Err: err}
		}
		return ToInternalRepository(&repo), nil
	}
	r := ToInternalRepository(starred.Repository)
	if starred.StarredAt != nil {
		t := starred.StarredAt.Time
		r.StarredAt = &t
	}
	return r, nil
}

// StarredRepoObjects extracts the bare repository objects from starred items, for caching as repo_data.
func StarredRepoObjects(items []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		var wrapper struct {
			Repo json.RawMessage `json:"repo"`
		}
		if err := json.Unmarshal(item, &wrapper); err == nil && len(wrapper.Repo) > 0 {
			out = append(out, wrapper.Repo)
			continue
		}
		out = append(out, item)
	}
	return out
}

// ToInternalRepository translates a github.Repository object to our internal model.Repository.
func ToInternalRepository(r *github.Repository) model.Repository {
	repo := model.Repository{
		RemoteID:        r.ID,
		Owner:           r.GetOwner().GetLogin(),
		OwnerType:       r.GetOwner().GetType(),
		OwnerURL:        r.GetOwner().GetHTMLURL(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Description:     r.Description,
		HTMLURL:         r.GetHTMLURL(),
		CloneURL:        r.GetCloneURL(),
		SSHURL:          r.GetSSHURL(),
		GitURL:          r.GetGitURL(),
		Homepage:        r.Homepage,
		Language:        r.Language,
		Topics:          r.Topics,
		Visibility:      r.GetVisibility(),
		DefaultBranch:   r.GetDefaultBranch(),
		Private:         r.GetPrivate(),
		Fork:            r.GetFork(),
		Archived:        r.GetArchived(),
		Disabled:        r.GetDisabled(),
		HasIssues:       r.GetHasIssues(),
		HasProjects:     r.GetHasProjects(),
		HasWiki:         r.GetHasWiki(),
		HasPages:        r.GetHasPages(),
		HasDiscussions:  r.GetHasDiscussions(),
		StarsCount:      r.GetStargazersCount(),
		WatchersCount:   r.GetWatchersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		Size:            r.GetSize(),
		RepoCreatedAt:   timestamp(r.CreatedAt),
		RepoUpdatedAt:   timestamp(r.UpdatedAt),
		PushedAt:        timestamp(r.PushedAt),
	}
	if owner := r.GetOwner(); owner != nil {
		repo.OwnerID = owner.ID
	}
	if lic := r.GetLicense(); lic != nil {
		repo.LicenseKey = lic.Key
		repo.LicenseName = lic.Name
		repo.LicenseSPDXID = lic.SPDXID
	}
	if repo.FullName == "" && repo.Owner != "" && repo.Name != "" {
		repo.FullName = repo.Owner + "/" + repo.Name
	}
	return repo
}

func timestamp(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
