package subagent

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	descriptionLimit = 200
	defaultTitle     = "Subagent Task"
)

// Producers have named the child session id differently over time.
var sessionIDKeys = []string{"sessionId", "session_id", "sessionID"}

var resultSessionIDKeys = []string{"sessionId", "session_id", "sessionID", "subagent_session_id", "child_session_id"}

var argSessionIDKeys = []string{"sessionId", "session_id"}

// rule reports whether a tool invocation spawned a child session. Rules are
// evaluated in order and the first match wins.
type rule func(tool types.ToolInvocation) bool

var rules = []rule{
	taskWithSubagentType,
	agentLikeName,
	carriesSessionID,
}

func taskWithSubagentType(tool types.ToolInvocation) bool {
	return strings.EqualFold(tool.Name, "task") && present(tool.Args, "subagent_type")
}

func agentLikeName(tool types.ToolInvocation) bool {
	name := strings.ToLower(tool.Name)
	if !strings.Contains(name, "task") && !strings.Contains(name, "agent") {
		return false
	}
	return present(tool.Args, "subagent_type") || present(tool.Args, "prompt")
}

func carriesSessionID(tool types.ToolInvocation) bool {
	return SessionID(tool) != ""
}

// IsSubagent reports whether tool represents a spawned child session.
func IsSubagent(tool types.ToolInvocation) bool {
	for _, match := range rules {
		if match(tool) {
			return true
		}
	}
	return false
}

// Detect returns the child session id of a sub-agent tool. ok is false when
// the tool is not a sub-agent or the id has not been reported yet.
func Detect(tool types.ToolInvocation) (string, bool) {
	if !IsSubagent(tool) {
		return "", false
	}
	id := SessionID(tool)
	return id, id != ""
}

// SessionID looks for a child session id in tool metadata, then
// args.metadata, then the result, then the args themselves.
func SessionID(tool types.ToolInvocation) string {
	if id := firstString(tool.Metadata, sessionIDKeys...); id != "" {
		return id
	}
	if meta, ok := tool.Args["metadata"].(map[string]any); ok {
		if id := firstString(meta, sessionIDKeys...); id != "" {
			return id
		}
	}
	if result, ok := tool.Result.(map[string]any); ok {
		if id := firstString(result, resultSessionIDKeys...); id != "" {
			return id
		}
	}
	return firstString(tool.Args, argSessionIDKeys...)
}

func Title(tool types.ToolInvocation) string {
	if title := strings.TrimSpace(tool.Title); title != "" {
		return title
	}
	if kind := Type(tool); kind != "" {
		return capitalize(kind) + " Task"
	}
	if desc := stringArg(tool.Args, "description"); desc != "" {
		return desc
	}
	return defaultTitle
}

// Type is the sub-agent type, e.g. "research" or "code_review".
func Type(tool types.ToolInvocation) string {
	return stringArg(tool.Args, "subagent_type")
}

// Description prefers the explicit description and falls back to the prompt,
// truncated for display.
func Description(tool types.ToolInvocation) string {
	if desc := stringArg(tool.Args, "description"); desc != "" {
		return desc
	}
	prompt := stringArg(tool.Args, "prompt")
	if utf8.RuneCountInString(prompt) > descriptionLimit {
		runes := []rune(prompt)
		return string(runes[:descriptionLimit-3]) + "..."
	}
	return prompt
}

// ResultText extracts a readable summary from the tool result.
func ResultText(tool types.ToolInvocation) string {
	switch result := tool.Result.(type) {
	case nil:
		return ""
	case string:
		return result
	case map[string]any:
		if text := firstString(result, "content", "text", "output", "message", "summary"); text != "" {
			return text
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return ""
		}
		return string(data)
	default:
		data, err := json.Marshal(result)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func present(args map[string]any, key string) bool {
	value, ok := args[key]
	if !ok || value == nil {
		return false
	}
	if s, ok := value.(string); ok {
		return s != ""
	}
	return true
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
