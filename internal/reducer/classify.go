package reducer

import (
	"encoding/json"
	"strings"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

const maxErrorLength = 300

// Classify guesses the category of an error that arrived without one.
func Classify(message string) types.ErrorCategory {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "credit balance"):
		return types.ErrorUserAction
	case containsAny(lower, "rate limit", "too many requests", "too many api requests", "worker invocation"):
		return types.ErrorTransient
	case containsAny(lower, "overloaded", "529"):
		return types.ErrorTransient
	case containsAny(lower, "network", "connection", "timeout"):
		return types.ErrorTransient
	default:
		return types.ErrorPersistent
	}
}

// Describe turns a raw error into the line shown to the user.
func Describe(message string) string {
	text := strings.TrimSpace(message)
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &parsed) == nil {
		if parsed.Message != "" {
			text = parsed.Message
		} else if parsed.Error != "" {
			text = parsed.Error
		}
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, "APIError"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "-"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "Error:"))

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "credit balance") || strings.Contains(lower, "anthropic api"):
		return "Your Anthropic API credit balance is too low. Please add credits to continue."
	case containsAny(lower, "rate limit", "too many requests", "too many api requests", "worker invocation"):
		return "Rate limited. The agent will retry automatically."
	case containsAny(lower, "overloaded", "529"):
		return "The API is temporarily overloaded. It will retry shortly."
	case containsAny(lower, "network", "connection", "timeout"):
		return "Network error. Please check your connection."
	}
	if runes := []rune(text); len(runes) > maxErrorLength {
		return string(runes[:maxErrorLength]) + "..."
	}
	return text
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
