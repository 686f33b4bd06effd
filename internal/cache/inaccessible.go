package cache

import (
	"context"
	"encoding/json"
	"net/http"

	"repo-catalog/internal/database"
)

type inaccessibleMarker struct {
	Inaccessible bool   `json:"inaccessible"`
	Status       int    `json:"status"`
	Key          string `json:"key"`
}

// InaccessibleStatus reports whether a remote status means the repository cannot be read.
func InaccessibleStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusNotFound, http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}

// MarkInaccessible caches a placeholder repo_data payload for a repository the remote
// refused to serve, so later lookups do not go back to the network.
func (s *Store) MarkInaccessible(ctx context.Context, key string, status int) (database.CacheEntry, error) {
	s.logger.Info("Marking repository inaccessible", "key", key, "status", status)
	return s.PutJSON(ctx, key, TypeRepoData, inaccessibleMarker{Inaccessible: true, Status: status, Key: key})
}

// IsInaccessible reports whether payload is the inaccessible placeholder.
func IsInaccessible(payload []byte) bool {
	var m inaccessibleMarker
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	return m.Inaccessible
}
