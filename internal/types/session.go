package types

import (
	"strings"
	"time"
)

type SessionStatus string

const (
	SessionStatusStarting SessionStatus = "starting"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusIdle     SessionStatus = "idle"
	SessionStatusStopped  SessionStatus = "stopped"
	SessionStatusError    SessionStatus = "error"
)

type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId,omitempty"`
	RepoOwner    string        `json:"repoOwner,omitempty"`
	RepoName     string        `json:"repoName,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	Status       SessionStatus `json:"status"`
	SandboxID    string        `json:"sandboxId,omitempty"`
	TunnelURL    string        `json:"tunnelUrl,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Title        string        `json:"title,omitempty"`
	MessageCount int           `json:"messageCount,omitempty"`
	Archived     bool          `json:"archived,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastActivity time.Time     `json:"lastActivity"`
}

// Repository identifies the GitHub repository a new session is provisioned for.
type Repository struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

func (r Repository) Valid() bool {
	return strings.TrimSpace(r.Owner) != "" && strings.TrimSpace(r.Name) != ""
}

func (r Repository) FullName() string {
	return strings.TrimSpace(r.Owner) + "/" + strings.TrimSpace(r.Name)
}

func (r Repository) CloneURL() string {
	return "https://github.com/" + r.FullName()
}

// ParseRepository accepts "owner/name" or a github.com URL.
func ParseRepository(raw string) (Repository, bool) {
	value := strings.TrimSpace(raw)
	value = strings.TrimSuffix(value, ".git")
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		value = strings.TrimPrefix(value, prefix)
	}
	value = strings.Trim(value, "/")
	owner, name, ok := strings.Cut(value, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repository{}, false
	}
	return Repository{Owner: owner, Name: name}, true
}
