package client

import "github.com/adhyaay-karnwal/ship/internal/types"

type StatusUpdate struct {
	ID           string              `json:"id"`
	Status       types.SessionStatus `json:"status"`
	SandboxID    string              `json:"modalSandboxId,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	State  types.ToolState `json:"state"`
	Result any             `json:"result,omitempty"`
}

type MessageAppend struct {
	SessionID   string       `json:"sessionId"`
	Role        types.Role   `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

type MessagesResponse struct {
	Messages []types.MessageRecord `json:"messages"`
}

type ProvisionRequest struct {
	SessionID   string `json:"sessionId"`
	RepoURL     string `json:"repoUrl"`
	Branch      string `json:"branch"`
	GithubToken string `json:"githubToken"`
	ModelAPIKey string `json:"modelApiKey,omitempty"`
}

type ProvisionResult struct {
	SandboxID string `json:"sandboxId"`
	TunnelURL string `json:"tunnelUrl"`
}

type SessionStatusResponse struct {
	Status        types.SessionStatus `json:"status"`
	SandboxStatus string              `json:"sandboxStatus,omitempty"`
	RepoName      string              `json:"repoName,omitempty"`
	Branch        string              `json:"branch,omitempty"`
}

type PromptRequest struct {
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
}
