package orchestrator

import (
	"net/url"
	"strings"
)

// ParseSessionRef extracts a session id from a dashboard link
// (".../session/<id>"), a "?session=<id>" query or a bare id.
func ParseSessionRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if !strings.ContainsAny(ref, "/?=# ") {
		return ref, true
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if id := strings.TrimSpace(parsed.Query().Get("session")); id != "" {
		return id, true
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == "session" || segments[i] == "sessions" {
			if id := strings.TrimSpace(segments[i+1]); id != "" {
				return id, true
			}
		}
	}
	return "", false
}
