package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

func asRequestError(err error, target **RequestError) bool {
	return errors.As(err, target)
}

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newCaptureServer(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*captureServer, *httptest.Server) {
	t.Helper()
	cs := &captureServer{respond: respond}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		_ = json.NewDecoder(r.Body).Decode(&req.Body)
		cs.mu.Lock()
		cs.requests = append(cs.requests, req)
		cs.mu.Unlock()
		if cs.respond != nil {
			cs.respond(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return cs, server
}

func (cs *captureServer) last(t *testing.T) capturedRequest {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.requests) == 0 {
		t.Fatalf("no requests captured")
	}
	return cs.requests[len(cs.requests)-1]
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8787", want: "ws://localhost:8787/sessions/abc/websocket"},
		{base: "https://api.example.test/v1/", want: "wss://api.example.test/v1/sessions/abc/websocket"},
	}
	for _, tc := range cases {
		got, err := NewWithBaseURL(tc.base, "").WebSocketURL("abc")
		if err != nil {
			t.Fatalf("WebSocketURL(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("WebSocketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
	if _, err := NewWithBaseURL("ftp://x", "").WebSocketURL("abc"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := NewWithBaseURL("http://x", "").WebSocketURL(" "); err == nil {
		t.Fatalf("expected error for blank session id")
	}
}

func TestUpdateSessionStatusUsesControlURL(t *testing.T) {
	control, controlServer := newCaptureServer(t, nil)
	_, apiServer := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected api request %s %s", r.Method, r.URL.Path)
	})

	client := NewWithBaseURL(apiServer.URL, "key", WithControlURL(controlServer.URL))
	err := client.UpdateSessionStatus(context.Background(), StatusUpdate{
		ID:           "s1",
		Status:       types.SessionStatusError,
		SandboxID:    "sb-1",
		ErrorMessage: "boom",
	})
	if err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	req := control.last(t)
	if req.Method != http.MethodPost || req.Path != "/api/sessions/updateStatus" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if req.Auth != "Bearer key" {
		t.Fatalf("unexpected auth header: %q", req.Auth)
	}
	want := map[string]any{"id": "s1", "status": "error", "modalSandboxId": "sb-1", "errorMessage": "boom"}
	if diff := cmp.Diff(want, req.Body); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestAppendMessageValidatesRole(t *testing.T) {
	client := NewWithBaseURL("http://127.0.0.1:1", "")
	if err := client.AppendMessage(context.Background(), MessageAppend{SessionID: "s1", Role: "robot"}); err == nil {
		t.Fatalf("expected invalid role error")
	}
	if err := client.AppendMessage(context.Background(), MessageAppend{Role: types.RoleUser}); err == nil {
		t.Fatalf("expected missing session error")
	}
}

func TestAppendMessageBody(t *testing.T) {
	control, server := newCaptureServer(t, nil)
	client := NewWithBaseURL(server.URL, "")
	err := client.AppendMessage(context.Background(), MessageAppend{
		SessionID: "s1",
		Role:      types.RoleAssistant,
		Content:   "done",
		ToolCalls: []ToolCall{{ID: "c1", Name: "bash"}},
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	req := control.last(t)
	if req.Path != "/api/messages/add" {
		t.Fatalf("unexpected path: %q", req.Path)
	}
	if req.Body["sessionId"] != "s1" || req.Body["role"] != "assistant" || req.Body["content"] != "done" {
		t.Fatalf("unexpected body: %#v", req.Body)
	}
	calls, ok := req.Body["toolCalls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("unexpected tool calls: %#v", req.Body["toolCalls"])
	}
	if _, ok := req.Body["toolResults"]; ok {
		t.Fatalf("empty tool results should be omitted")
	}
}

func TestListMessagesDefaultsLimit(t *testing.T) {
	capture, server := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","role":"user","content":"hi","createdAt":1700000000000}]}`))
	})
	client := NewWithBaseURL(server.URL, "")
	records, err := client.ListMessages(context.Background(), "s 1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	req := capture.last(t)
	if req.Path != "/sessions/s 1/messages" || req.Query != "limit=100" {
		t.Fatalf("unexpected request: path=%q query=%q", req.Path, req.Query)
	}
	want := []types.MessageRecord{{ID: "m1", Role: types.RoleUser, Content: "hi", CreatedAt: 1700000000000}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("unexpected records (-want +got):\n%s", diff)
	}
}

func TestProvisionReturnsTunnel(t *testing.T) {
	capture, server := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sandboxId":"sb-1","tunnelUrl":"https://tunnel.example.test"}`))
	})
	client := NewWithBaseURL(server.URL, "")
	result, err := client.Provision(context.Background(), ProvisionRequest{
		SessionID:   "s1",
		RepoURL:     "https://github.com/o/r",
		Branch:      "main",
		GithubToken: "gh",
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if result.SandboxID != "sb-1" || result.TunnelURL != "https://tunnel.example.test" {
		t.Fatalf("unexpected result: %+v", result)
	}
	req := capture.last(t)
	if req.Path != "/sessions" || req.Body["repoUrl"] != "https://github.com/o/r" || req.Body["githubToken"] != "gh" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestProvisionErrorKeepsSandboxID(t *testing.T) {
	_, server := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"sandbox failed to boot","sandboxId":"sb-9"}`))
	})
	client := NewWithBaseURL(server.URL, "")
	result, err := client.Provision(context.Background(), ProvisionRequest{SessionID: "s1", RepoURL: "https://github.com/o/r"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if result.SandboxID != "sb-9" {
		t.Fatalf("expected sandbox id from error body, got %q", result.SandboxID)
	}
	var reqErr *RequestError
	if !asRequestError(err, &reqErr) || reqErr.StatusCode != http.StatusBadGateway || reqErr.Message != "sandbox failed to boot" {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestRequestErrorFallsBackToBody(t *testing.T) {
	_, server := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	})
	client := NewWithBaseURL(server.URL, "")
	err := client.StopSession(context.Background(), "s1")
	var reqErr *RequestError
	if !asRequestError(err, &reqErr) {
		t.Fatalf("expected request error, got %v", err)
	}
	if reqErr.Message != "upstream exploded" || reqErr.Path != "/sessions/s1/stop" {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
}

func TestSessionStatus(t *testing.T) {
	_, server := newCaptureServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","sandboxStatus":"ready","repoName":"ship","branch":"dev"}`))
	})
	client := NewWithBaseURL(server.URL, "")
	status, err := client.SessionStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("SessionStatus: %v", err)
	}
	want := &SessionStatusResponse{Status: types.SessionStatusRunning, SandboxStatus: "ready", RepoName: "ship", Branch: "dev"}
	if diff := cmp.Diff(want, status); diff != "" {
		t.Fatalf("unexpected status (-want +got):\n%s", diff)
	}
}
