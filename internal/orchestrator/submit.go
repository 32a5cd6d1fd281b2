package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/reducer"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const noTunnelMessage = "failed to establish connection to sandbox: no tunnel URL available"

var errNoTunnel = errors.New("no tunnel URL available")

type promptFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
}

// Submit sends text on the active session, queueing it while a turn is
// streaming. With no active session a sandbox is provisioned for the selected
// repository first.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return invalidError("message is required", nil)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return unavailableError("orchestrator is closed", nil)
	}
	a := o.active
	repo := o.repo
	o.mu.Unlock()

	if a == nil {
		if !repo.Valid() {
			return invalidError("select a repository before starting a session", nil)
		}
		session, err := o.provision(ctx, repo)
		if err != nil {
			return err
		}
		if err := o.activate(ctx, session); err != nil {
			return err
		}
	}

	o.mu.Lock()
	a = o.active
	if a == nil {
		o.mu.Unlock()
		return unavailableError("no active session", nil)
	}
	if a.streaming {
		a.queue = append(a.queue, text)
		depth := len(a.queue)
		sessionID := a.session.ID
		o.mu.Unlock()
		o.logger.Debug("prompt queued", logging.F("session_id", sessionID), logging.F("depth", depth))
		o.publish()
		return nil
	}
	a.streaming = true
	gen := a.gen
	sessionID := a.session.ID
	o.mu.Unlock()

	if err := o.dispatch(gen, sessionID, text); err != nil {
		return unavailableError("failed to send message", err)
	}
	return nil
}

// dispatch sends text as a new turn. The caller has already marked the
// session streaming. A failed send is recorded as an error message, is not
// retried, and lets the next queued prompt go out. The first send error is
// returned.
func (o *Orchestrator) dispatch(gen uint64, sessionID, text string) error {
	var firstErr error
	for {
		err := o.sendTurn(gen, sessionID, text)
		if err == nil {
			return firstErr
		}
		if firstErr == nil {
			firstErr = err
		}
		o.logger.Warn("prompt send failed", logging.F("session_id", sessionID), logging.Err(err))

		o.mu.Lock()
		a := o.current(gen)
		if a == nil {
			o.mu.Unlock()
			return firstErr
		}
		a.streaming = false
		a.state = reducer.Apply(a.state, events.Event{
			Kind: events.KindError,
			Key:  "send-" + o.newID(),
			Error: &events.ErrorInfo{
				Message: "Failed to send message: " + err.Error(),
			},
			ReceivedAt: o.now(),
		})
		if len(a.queue) == 0 {
			o.mu.Unlock()
			o.publish()
			return firstErr
		}
		text = a.queue[0]
		a.queue = append([]string(nil), a.queue[1:]...)
		a.streaming = true
		o.mu.Unlock()
		o.publish()
	}
}

func (o *Orchestrator) sendTurn(gen uint64, sessionID, text string) error {
	now := o.now()
	msg := types.UIMessage{
		ID:        o.newID(),
		Role:      types.RoleUser,
		Content:   text,
		CreatedAt: now,
		Phase:     types.PhaseFinalized,
	}

	o.mu.Lock()
	a := o.current(gen)
	if a == nil {
		o.mu.Unlock()
		return transport.ErrNotConnected
	}
	a.state = reducer.Append(a.state, msg)
	a.locallyRequestedStop = false
	a.serverConfirmedIdle = false
	a.streamStartedAt = now
	a.session.Status = types.SessionStatusRunning
	a.session.LastActivity = now.UTC()
	a.session.MessageCount = len(a.state.Messages)
	o.mu.Unlock()
	o.publish()

	ch, ok := o.registry.Get(sessionID, gen)
	if !ok {
		return transport.ErrNotConnected
	}
	if err := ch.Send(promptFrame{Type: "prompt", Content: text, Mode: o.mode}); err != nil {
		return err
	}
	o.logger.Debug("prompt sent", logging.F("session_id", sessionID), logging.F("bytes", len(text)))
	if o.control != nil {
		o.goBackground(func(ctx context.Context) {
			err := o.control.AppendMessage(ctx, client.MessageAppend{
				SessionID: sessionID,
				Role:      types.RoleUser,
				Content:   text,
			})
			if err != nil {
				o.logger.Warn("message append failed", logging.F("session_id", sessionID), logging.Err(err))
			}
		})
	}
	return nil
}

// Stop ends the running turn locally at once and asks the sandbox to stop.
// The stop request is best effort. A queued prompt, if any, goes out next.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	a := o.active
	if a == nil {
		o.mu.Unlock()
		return invalidError("no active session", nil)
	}
	wasStreaming := a.streaming
	a.locallyRequestedStop = true
	a.serverConfirmedIdle = false
	a.stopAckPending = wasStreaming
	a.stoppedMessageID = a.state.ActiveMessageID
	a.streaming = false
	a.state = reducer.Finalize(a.state)
	a.session.Status = types.SessionStatusIdle
	gen := a.gen
	sessionID := a.session.ID
	var (
		next    string
		hasNext bool
	)
	if wasStreaming && len(a.queue) > 0 {
		next = a.queue[0]
		a.queue = append([]string(nil), a.queue[1:]...)
		a.streaming = true
		hasNext = true
	}
	o.mu.Unlock()
	o.publish()
	o.logger.Info("stop requested", logging.F("session_id", sessionID), logging.F("was_streaming", wasStreaming))

	if o.control != nil {
		if err := o.control.StopSession(ctx, sessionID); err != nil {
			o.logger.Warn("stop request failed", logging.F("session_id", sessionID), logging.Err(err))
		}
	}
	if hasNext {
		_ = o.dispatch(gen, sessionID, next)
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, repo types.Repository) (types.Session, error) {
	if o.provisioner == nil {
		return types.Session{}, unavailableError("provisioning is not configured", nil)
	}
	branch := repo.Branch
	if branch == "" {
		branch = o.branch
	}
	now := o.now().UTC()
	session := types.Session{
		ID:           o.newID(),
		UserID:       o.creds.UserID,
		RepoOwner:    repo.Owner,
		RepoName:     repo.Name,
		Branch:       branch,
		Status:       types.SessionStatusStarting,
		CreatedAt:    now,
		LastActivity: now,
	}
	o.remember(session)
	o.putSession(ctx, session)
	o.logger.Info("provisioning sandbox", logging.F("session_id", session.ID), logging.F("repo", repo.FullName()))

	result, err := o.provisioner.Provision(ctx, client.ProvisionRequest{
		SessionID:   session.ID,
		RepoURL:     repo.CloneURL(),
		Branch:      branch,
		GithubToken: o.creds.GithubToken,
		ModelAPIKey: o.creds.ModelAPIKey,
	})
	session.SandboxID = result.SandboxID
	if err == nil && strings.TrimSpace(result.TunnelURL) == "" {
		err = errNoTunnel
	}
	if err != nil {
		message := noTunnelMessage
		if !errors.Is(err, errNoTunnel) {
			message = "failed to provision sandbox: " + err.Error()
		}
		session.Status = types.SessionStatusError
		session.ErrorMessage = message
		o.remember(session)
		o.putSession(ctx, session)
		o.logger.Error("provisioning failed", logging.F("session_id", session.ID), logging.Err(err))
		o.recordStatus(session)
		o.publish()
		return session, provisioningError(message, err)
	}

	session.TunnelURL = strings.TrimSpace(result.TunnelURL)
	session.Status = types.SessionStatusRunning
	o.remember(session)
	o.putSession(ctx, session)
	o.recordStatus(session)
	return session, nil
}

func (o *Orchestrator) recordStatus(session types.Session) {
	if o.control == nil {
		return
	}
	o.goBackground(func(ctx context.Context) {
		err := o.control.UpdateSessionStatus(ctx, client.StatusUpdate{
			ID:           session.ID,
			Status:       session.Status,
			SandboxID:    session.SandboxID,
			ErrorMessage: session.ErrorMessage,
		})
		if err != nil {
			o.logger.Warn("session status update failed", logging.F("session_id", session.ID), logging.Err(err))
		}
	})
}

// remember keeps the newest session record for snapshots taken while no
// session is active.
func (o *Orchestrator) remember(session types.Session) {
	o.mu.Lock()
	o.last = &session
	o.mu.Unlock()
}
