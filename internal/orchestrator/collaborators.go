package orchestrator

import (
	"context"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

// Control records session status and finished messages and asks the sandbox
// to stop. *client.Client satisfies it.
type Control interface {
	UpdateSessionStatus(ctx context.Context, update client.StatusUpdate) error
	AppendMessage(ctx context.Context, msg client.MessageAppend) error
	StopSession(ctx context.Context, sessionID string) error
}

type History interface {
	ListMessages(ctx context.Context, sessionID string, limit int) ([]types.MessageRecord, error)
}

// Provisioner starts a sandbox for a new session. A result without a tunnel
// URL is treated as a failure.
type Provisioner interface {
	Provision(ctx context.Context, req client.ProvisionRequest) (client.ProvisionResult, error)
}

type Credentials struct {
	UserID      string
	GithubToken string
	ModelAPIKey string
}
