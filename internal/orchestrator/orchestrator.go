package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adhyaay-karnwal/ship/internal/client"
	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/reducer"
	"github.com/adhyaay-karnwal/ship/internal/store"
	"github.com/adhyaay-karnwal/ship/internal/subagent"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	defaultHistoryLimit = 100
	defaultMode         = "build"
	backgroundTimeout   = 10 * time.Second
)

type Options struct {
	Connector   transport.Connector
	Control     Control
	History     History
	Provisioner Provisioner
	Cache       store.SessionCache
	Logger      logging.Logger
	Credentials Credentials
	// HistoryLimit caps the records fetched when a session is first activated.
	HistoryLimit  int
	DefaultBranch string
	Mode          string
	NewID         func() string
	Now           func() time.Time
}

type activeSession struct {
	session types.Session
	gen     uint64
	state   reducer.State
	// savedSide is the side channel as last written to the cache.
	savedSide types.SideChannel

	streaming            bool
	locallyRequestedStop bool
	serverConfirmedIdle  bool
	// stopAckPending is set by Stop while a turn was running and cleared by
	// the terminal event of that turn or by the first part of a later message.
	stopAckPending   bool
	stoppedMessageID string
	queue            []string
	channel          transport.Status
	streamStartedAt  time.Time
	persisted        map[string]struct{}
}

// Orchestrator owns the active session: its channel, folded state, prompt
// queue and the persistence that follows each turn.
type Orchestrator struct {
	connector    transport.Connector
	control      Control
	history      History
	provisioner  Provisioner
	cache        store.SessionCache
	logger       logging.Logger
	creds        Credentials
	historyLimit int
	branch       string
	mode         string
	newID        func() string
	now          func() time.Time

	registry  *channelRegistry
	hub       *snapshotHub
	composer  *subagent.Composer
	pending   sync.WaitGroup
	publishMu sync.Mutex

	mu         sync.Mutex
	gen        uint64
	active     *activeSession
	last       *types.Session
	repo       types.Repository
	backfilled map[string]struct{}
	closed     bool
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		connector:    opts.Connector,
		control:      opts.Control,
		history:      opts.History,
		provisioner:  opts.Provisioner,
		cache:        opts.Cache,
		logger:       logging.OrNop(opts.Logger),
		creds:        opts.Credentials,
		historyLimit: opts.HistoryLimit,
		branch:       strings.TrimSpace(opts.DefaultBranch),
		mode:         strings.TrimSpace(opts.Mode),
		newID:        opts.NewID,
		now:          opts.Now,
		registry:     newChannelRegistry(),
		hub:          newSnapshotHub(),
		backfilled:   map[string]struct{}{},
	}
	if o.cache == nil {
		o.cache = store.NewMemoryCache()
	}
	if o.historyLimit <= 0 {
		o.historyLimit = defaultHistoryLimit
	}
	if o.branch == "" {
		o.branch = "main"
	}
	if o.mode == "" {
		o.mode = defaultMode
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.composer = subagent.NewComposer(o.connector, subagent.ComposerOptions{
		Logger:   o.logger,
		OnChange: o.publish,
		Now:      o.now,
	})
	return o
}

// SelectRepository sets the repository used to provision a session when a
// prompt is submitted with no active session.
func (o *Orchestrator) SelectRepository(repo types.Repository) error {
	if !repo.Valid() {
		return invalidError("repository owner and name are required", nil)
	}
	repo.Owner = strings.TrimSpace(repo.Owner)
	repo.Name = strings.TrimSpace(repo.Name)
	repo.Branch = strings.TrimSpace(repo.Branch)
	o.mu.Lock()
	o.repo = repo
	o.mu.Unlock()
	return nil
}

// Activate makes sessionID the active session. Activating the session that is
// already active does nothing.
func (o *Orchestrator) Activate(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalidError("session id is required", nil)
	}
	session := o.lookupSession(ctx, sessionID)
	return o.activate(ctx, session)
}

// ActivateFromURL activates the session named by a dashboard link, a
// "?session=" query or a bare id.
func (o *Orchestrator) ActivateFromURL(ctx context.Context, ref string) (string, error) {
	sessionID, ok := ParseSessionRef(ref)
	if !ok {
		return "", invalidError("no session id in "+ref, nil)
	}
	return sessionID, o.Activate(ctx, sessionID)
}

func (o *Orchestrator) activate(ctx context.Context, session types.Session) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return unavailableError("orchestrator is closed", nil)
	}
	if o.active != nil && o.active.session.ID == session.ID {
		o.mu.Unlock()
		return nil
	}
	prev := o.active
	o.gen++
	gen := o.gen
	o.active = &activeSession{
		session:   session,
		gen:       gen,
		state:     reducer.NewState(),
		channel:   transport.StatusConnecting,
		persisted: map[string]struct{}{},
	}
	_, backfilled := o.backfilled[session.ID]
	o.mu.Unlock()

	if prev != nil {
		if ch := o.registry.Take(prev.session.ID); ch != nil {
			ch.Disconnect()
		}
		o.composer.Close()
		o.logger.Info("session deactivated", logging.F("session_id", prev.session.ID))
	}

	side, found, err := o.cache.Load(ctx, session.ID)
	if err != nil {
		o.logger.Warn("side channel restore failed", logging.F("session_id", session.ID), logging.Err(err))
	}
	if found {
		o.mu.Lock()
		if a := o.current(gen); a != nil {
			a.state = reducer.WithSide(side)
			a.savedSide = side.Clone()
		}
		o.mu.Unlock()
	}

	ch, err := o.connector.Connect(context.WithoutCancel(ctx), session.ID, transport.Handlers{
		OnMessage: func(frame []byte) {
			o.handleFrame(gen, frame)
		},
		OnStatusChange: func(status transport.Status) {
			o.handleStatus(gen, status)
		},
	})
	if err != nil {
		o.mu.Lock()
		if a := o.current(gen); a != nil {
			a.channel = transport.StatusDisconnected
		}
		o.mu.Unlock()
		o.publish()
		return unavailableError("failed to open session channel", err)
	}

	o.mu.Lock()
	superseded := o.current(gen) == nil
	o.mu.Unlock()
	if superseded {
		ch.Disconnect()
		return nil
	}
	if replaced := o.registry.Put(session.ID, gen, ch); replaced != nil {
		replaced.Disconnect()
	}
	o.logger.Info("session activated", logging.F("session_id", session.ID), logging.F("generation", gen))
	o.publish()

	session.LastActivity = o.now().UTC()
	o.putSession(ctx, session)
	if !backfilled {
		o.backfill(ctx, gen, session.ID)
	}
	return nil
}

func (o *Orchestrator) backfill(ctx context.Context, gen uint64, sessionID string) {
	if o.history == nil {
		return
	}
	records, err := o.history.ListMessages(ctx, sessionID, o.historyLimit)
	if err != nil {
		o.logger.Warn("history backfill failed", logging.F("session_id", sessionID), logging.Err(err))
		return
	}
	o.mu.Lock()
	o.backfilled[sessionID] = struct{}{}
	a := o.current(gen)
	if a != nil {
		a.state = reducer.Backfill(a.state, records)
		a.session.MessageCount = len(a.state.Messages)
	}
	o.mu.Unlock()
	if a != nil {
		o.logger.Debug("history backfilled", logging.F("session_id", sessionID), logging.F("records", len(records)))
		o.publish()
	}
}

// lookupSession returns the cached record for sessionID, or a bare running
// session when the cache has never seen it.
func (o *Orchestrator) lookupSession(ctx context.Context, sessionID string) types.Session {
	sessions, err := o.cache.Sessions(ctx)
	if err != nil {
		o.logger.Debug("session list unavailable", logging.Err(err))
	}
	for _, session := range sessions {
		if session.ID == sessionID {
			return session
		}
	}
	now := o.now().UTC()
	return types.Session{
		ID:           sessionID,
		UserID:       o.creds.UserID,
		Status:       types.SessionStatusRunning,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// current returns the active session if it still belongs to gen. Callers
// hold o.mu.
func (o *Orchestrator) current(gen uint64) *activeSession {
	if o.active == nil || o.active.gen != gen {
		return nil
	}
	return o.active
}

func (o *Orchestrator) handleStatus(gen uint64, status transport.Status) {
	o.mu.Lock()
	a := o.current(gen)
	if a != nil {
		a.channel = status
	}
	o.mu.Unlock()
	if a == nil {
		return
	}
	o.logger.Debug("channel status", logging.F("session_id", a.session.ID), logging.F("status", status))
	o.publish()
}

func (o *Orchestrator) handleFrame(gen uint64, frame []byte) {
	ev, ok := events.Decode(frame)
	if !ok {
		o.logger.Debug("frame dropped", logging.F("bytes", len(frame)))
		return
	}
	ev.ReceivedAt = o.now()

	o.mu.Lock()
	a := o.current(gen)
	if a == nil {
		o.mu.Unlock()
		return
	}
	activeBefore := a.state.ActiveMessageID
	a.state = reducer.Apply(a.state, ev)
	if ev.Kind == events.KindPartUpdated {
		if ev.Part != nil && ev.Part.MessageID != a.stoppedMessageID {
			a.stopAckPending = false
		}
		if !a.streaming && !a.locallyRequestedStop && a.state.ActiveMessageID != "" {
			// a turn started elsewhere, e.g. from another client
			a.streaming = true
			a.streamStartedAt = ev.ReceivedAt
		}
	}
	if title := a.state.Side.Title; title != "" {
		a.session.Title = title
	}

	var (
		finished *turnResult
		next     string
		hasNext  bool
	)
	if ev.Terminal() {
		finished, next, hasNext = o.endTurn(a, ev, activeBefore)
	}

	var side *types.SideChannel
	if !reflect.DeepEqual(a.state.Side, a.savedSide) {
		saved := a.state.Side.Clone()
		a.savedSide = saved
		side = &saved
	}
	sessionID := a.session.ID
	o.mu.Unlock()

	if side != nil {
		if err := o.cache.Save(context.Background(), sessionID, *side); err != nil {
			o.logger.Warn("side channel save failed", logging.F("session_id", sessionID), logging.Err(err))
		}
	}
	o.publish()
	if finished != nil {
		o.persistTurn(*finished)
	}
	if hasNext {
		_ = o.dispatch(gen, sessionID, next)
	}
}

type turnResult struct {
	session types.Session
	message *types.UIMessage
}

// endTurn applies a terminal event to the orchestrator's own flags. It
// returns what to persist and the queued prompt to send next, if any.
// Callers hold o.mu.
func (o *Orchestrator) endTurn(a *activeSession, ev events.Event, activeBefore string) (*turnResult, string, bool) {
	status := types.SessionStatusIdle
	if ev.Kind == events.KindSessionError {
		status = types.SessionStatusError
		if ev.Error != nil && ev.Error.Name == "MessageAbortedError" {
			status = types.SessionStatusIdle
		}
	}
	a.serverConfirmedIdle = true
	if a.stopAckPending {
		// the stopped turn ending; any newer turn keeps streaming
		a.stopAckPending = false
		if a.streaming {
			return nil, "", false
		}
	}
	changed := a.session.Status != status
	a.session.Status = status
	a.session.LastActivity = ev.ReceivedAt.UTC()
	a.session.MessageCount = len(a.state.Messages)
	if !a.streaming {
		if !changed {
			return nil, "", false
		}
		return &turnResult{session: a.session}, "", false
	}
	a.streaming = false
	result := &turnResult{session: a.session}
	if msg, ok := o.finalAssistant(a, activeBefore); ok {
		a.persisted[msg.ID] = struct{}{}
		result.message = &msg
	}
	o.logger.Info("turn finished",
		logging.F("session_id", a.session.ID),
		logging.F("status", status),
		logging.F("duration", ev.ReceivedAt.Sub(a.streamStartedAt)),
	)
	if len(a.queue) == 0 {
		return result, "", false
	}
	next := a.queue[0]
	a.queue = append([]string(nil), a.queue[1:]...)
	a.streaming = true
	return result, next, true
}

// finalAssistant picks the message the finished turn produced: the one that
// was streaming, else the newest assistant message not yet persisted.
func (o *Orchestrator) finalAssistant(a *activeSession, activeBefore string) (types.UIMessage, bool) {
	if msg, ok := a.state.Message(activeBefore); ok && msg.Role == types.RoleAssistant {
		if _, done := a.persisted[msg.ID]; !done {
			return msg.Clone(), true
		}
	}
	for i := len(a.state.Messages) - 1; i >= 0; i-- {
		msg := a.state.Messages[i]
		if msg.Role != types.RoleAssistant {
			continue
		}
		if msg.CreatedAt.Before(a.streamStartedAt) {
			break
		}
		if _, done := a.persisted[msg.ID]; done {
			break
		}
		return msg.Clone(), true
	}
	return types.UIMessage{}, false
}

func (o *Orchestrator) persistTurn(result turnResult) {
	session := result.session
	o.putSession(context.Background(), session)
	if o.control == nil {
		return
	}
	o.recordStatus(session)
	if result.message == nil {
		return
	}
	msg := *result.message
	o.goBackground(func(ctx context.Context) {
		calls, results := toolPayloads(msg.Tools)
		err := o.control.AppendMessage(ctx, client.MessageAppend{
			SessionID:   session.ID,
			Role:        types.RoleAssistant,
			Content:     msg.Content,
			ToolCalls:   calls,
			ToolResults: results,
		})
		if err != nil {
			o.logger.Warn("message append failed", logging.F("session_id", session.ID), logging.Err(err))
		}
	})
}

func toolPayloads(tools []types.ToolInvocation) ([]client.ToolCall, []client.ToolResult) {
	if len(tools) == 0 {
		return nil, nil
	}
	calls := make([]client.ToolCall, 0, len(tools))
	var results []client.ToolResult
	for _, tool := range tools {
		calls = append(calls, client.ToolCall{ID: tool.CallID, Name: tool.Name, Args: tool.Args})
		if tool.State.Terminal() {
			results = append(results, client.ToolResult{
				ID:     tool.CallID,
				Name:   tool.Name,
				State:  tool.State,
				Result: tool.Result,
			})
		}
	}
	return calls, results
}

// goBackground runs fn on its own goroutine with a bounded context. Wait
// blocks until every such call returns.
func (o *Orchestrator) goBackground(fn func(ctx context.Context)) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) putSession(ctx context.Context, session types.Session) {
	if err := o.cache.PutSession(ctx, session); err != nil {
		o.logger.Warn("session cache write failed", logging.F("session_id", session.ID), logging.Err(err))
	}
}

// Wait blocks until in-flight status and message writes finish.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	var snap Snapshot
	switch {
	case o.active != nil:
		snap = o.active.snapshot()
	case o.last != nil:
		snap = Snapshot{Session: *o.last, Channel: transport.StatusDisconnected}
	default:
		snap = Snapshot{Channel: transport.StatusDisconnected}
	}
	o.mu.Unlock()
	if view, ok := o.composer.Current(); ok {
		snap.Subagent = &view
	}
	return snap
}

// Subscribe delivers a snapshot now and after every change until ctx ends.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Snapshot {
	ch, cancel := o.hub.Add()
	o.publishMu.Lock()
	o.hub.Broadcast(o.Snapshot())
	o.publishMu.Unlock()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch
}

func (o *Orchestrator) publish() {
	if o.hub.Count() == 0 {
		return
	}
	o.publishMu.Lock()
	defer o.publishMu.Unlock()
	o.hub.Broadcast(o.Snapshot())
}

// ViewSubagent opens the child session spawned by tool alongside the active
// session. Any other child stream is closed first.
func (o *Orchestrator) ViewSubagent(ctx context.Context, tool types.ToolInvocation) (string, error) {
	sessionID, err := o.composer.Select(ctx, tool)
	if err != nil {
		if errors.Is(err, subagent.ErrNotSubagent) {
			return "", invalidError("tool did not spawn a sub-agent session", err)
		}
		return "", unavailableError("failed to open sub-agent stream", err)
	}
	return sessionID, nil
}

func (o *Orchestrator) CloseSubagent() {
	o.composer.Close()
}

// Close disconnects every channel and waits for pending writes.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.active = nil
	o.gen++
	o.mu.Unlock()

	for _, ch := range o.registry.TakeAll() {
		ch.Disconnect()
	}
	o.composer.Close()
	o.pending.Wait()
	o.hub.CloseAll()
}
