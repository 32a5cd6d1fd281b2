package app

import (
	"fmt"
	"strings"
	"time"
)

type timestampMode string

const (
	timestampRelative timestampMode = "relative"
	timestampISO      timestampMode = "iso"
	timestampOff      timestampMode = "off"
)

func parseTimestampMode(raw string) timestampMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(timestampISO):
		return timestampISO
	case string(timestampOff), "none", "false":
		return timestampOff
	default:
		return timestampRelative
	}
}

// timestampBucket changes once a minute while relative ages are shown, so the
// transcript is re-rendered only when an age could have changed.
func timestampBucket(mode timestampMode, now time.Time) int64 {
	if mode != timestampRelative {
		return -1
	}
	return now.UTC().Unix() / 60
}

func formatTimestamp(createdAt, now time.Time, mode timestampMode) string {
	if createdAt.IsZero() || mode == timestampOff {
		return ""
	}
	if mode == timestampISO {
		return createdAt.UTC().Format(time.RFC3339)
	}
	delta := max(now.Sub(createdAt), 0)
	switch {
	case delta < 30*time.Second:
		return "just now"
	case delta < time.Hour:
		return plural(int(max(delta.Round(time.Minute), time.Minute)/time.Minute), "minute")
	case delta < 24*time.Hour:
		return plural(int(delta.Round(time.Hour)/time.Hour), "hour")
	default:
		return plural(int(delta.Round(24*time.Hour)/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
