package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/store"
	"github.com/adhyaay-karnwal/ship/internal/testutil"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeControl struct {
	mu        sync.Mutex
	statuses  []client.StatusUpdate
	messages  []client.MessageAppend
	stops     []string
	stopErr   error
	appendErr error
}

func (f *fakeControl) UpdateSessionStatus(_ context.Context, update client.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, update)
	return nil
}

func (f *fakeControl) AppendMessage(_ context.Context, msg client.MessageAppend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.appendErr
}

func (f *fakeControl) StopSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, sessionID)
	return f.stopErr
}

func (f *fakeControl) Statuses() []client.StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.StatusUpdate(nil), f.statuses...)
}

func (f *fakeControl) Messages() []client.MessageAppend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.MessageAppend(nil), f.messages...)
}

func (f *fakeControl) Stops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[string][]types.MessageRecord
	calls   int
	err     error
}

func (f *fakeHistory) ListMessages(_ context.Context, sessionID string, _ int) ([]types.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records[sessionID], nil
}

func (f *fakeHistory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProvisioner struct {
	mu       sync.Mutex
	result   client.ProvisionResult
	err      error
	requests []client.ProvisionRequest
}

func (f *fakeProvisioner) Provision(_ context.Context, req client.ProvisionRequest) (client.ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type harness struct {
	orch        *Orchestrator
	connector   *testutil.Connector
	control     *fakeControl
	history     *fakeHistory
	provisioner *fakeProvisioner
	cache       store.SessionCache
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		connector:   testutil.NewConnector(),
		control:     &fakeControl{},
		history:     &fakeHistory{records: map[string][]types.MessageRecord{}},
		provisioner: &fakeProvisioner{result: client.ProvisionResult{SandboxID: "sb-1", TunnelURL: "https://tunnel.example.test"}},
		cache:       store.NewMemoryCache(),
	}
	h.orch = New(Options{
		Connector:   h.connector,
		Control:     h.control,
		History:     h.history,
		Provisioner: h.provisioner,
		Cache:       h.cache,
		Credentials: Credentials{UserID: "u1", GithubToken: "gh"},
		NewID:       sequentialIDs(),
		Now:         func() time.Time { return testNow },
	})
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) activate(t *testing.T, sessionID string) *testutil.Channel {
	t.Helper()
	if err := h.orch.Activate(context.Background(), sessionID); err != nil {
		t.Fatalf("Activate(%s): %v", sessionID, err)
	}
	ch := h.connector.Latest(sessionID)
	if ch == nil {
		t.Fatalf("no channel opened for %s", sessionID)
	}
	return ch
}

func textFrame(msgID, partID, text string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"messageID":%q,"type":"text","text":%q}}}`, partID, msgID, text)
}

const idleFrame = `{"type":"session.idle","properties":{}}`

func sentContents(ch *testutil.Channel) []string {
	var out []string
	for _, payload := range ch.Sent() {
		if payload["type"] == "prompt" {
			content, _ := payload["content"].(string)
			out = append(out, content)
		}
	}
	return out
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	return target
}
