package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	CacheBackendBolt   = "bbolt"
	CacheBackendFile   = "file"
	CacheBackendMemory = "memory"
)

var errSessionIDRequired = errors.New("session id is required")

// SessionCache keeps the side-channel values of a session (cost, todos,
// diffs, title and the like) plus the sessions this client has seen, so a
// reload restores them before the stream catches up.
type SessionCache interface {
	Load(ctx context.Context, sessionID string) (types.SideChannel, bool, error)
	Save(ctx context.Context, sessionID string, side types.SideChannel) error
	Delete(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]types.Session, error)
	PutSession(ctx context.Context, session types.Session) error
	Close() error
}

// OpenCache opens the cache for backend at path.
func OpenCache(backend, path string) (SessionCache, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case CacheBackendMemory:
		return NewMemoryCache(), nil
	case CacheBackendFile:
		return NewFileCache(path)
	case "", CacheBackendBolt:
		return NewBoltCache(path)
	default:
		return nil, errors.New("unknown cache backend: " + backend)
	}
}

func normalizeSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errSessionIDRequired
	}
	return id, nil
}

func sortSessions(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}

// mergeSession keeps fields the update leaves blank.
func mergeSession(existing, update types.Session) types.Session {
	merged := update
	if merged.UserID == "" {
		merged.UserID = existing.UserID
	}
	if merged.RepoOwner == "" {
		merged.RepoOwner = existing.RepoOwner
	}
	if merged.RepoName == "" {
		merged.RepoName = existing.RepoName
	}
	if merged.Branch == "" {
		merged.Branch = existing.Branch
	}
	if merged.Status == "" {
		merged.Status = existing.Status
	}
	if merged.SandboxID == "" {
		merged.SandboxID = existing.SandboxID
	}
	if merged.TunnelURL == "" {
		merged.TunnelURL = existing.TunnelURL
	}
	if merged.Title == "" {
		merged.Title = existing.Title
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = existing.CreatedAt
	}
	if merged.LastActivity.IsZero() {
		merged.LastActivity = existing.LastActivity
	}
	return merged
}
