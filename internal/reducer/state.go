package reducer

import (
	"maps"
	"sync"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

// State is the folded view of one session's event log. Values are treated as
// immutable: Apply and Backfill return a new State and never modify their
// input.
type State struct {
	Messages []types.UIMessage
	Side     types.SideChannel
	// ActiveMessageID is the message currently receiving parts.
	ActiveMessageID string
	Idle            bool
	Errored         bool

	// applied holds the keys of folded events. The log is shared with the
	// states derived from this one; appliedN is how much of it this state sees.
	applied  *keyLog
	appliedN int
	seqs     map[string]int64
	roles   map[string]types.Role
	parts   map[string]partTrack
	steps   map[string]struct{}
}

type segment struct {
	id   string
	text string
}

type partTrack struct {
	text      []segment
	reasoning []segment
	// authoritative is set once a message record replaced the content.
	authoritative bool
}

func NewState() State {
	return State{}
}

// WithSide returns a state seeded with previously persisted side-channel values.
func WithSide(side types.SideChannel) State {
	return State{Side: side.Clone()}
}

// Message returns the message with id.
func (s State) Message(id string) (types.UIMessage, bool) {
	if idx := s.indexOf(id); idx >= 0 {
		return s.Messages[idx], true
	}
	return types.UIMessage{}, false
}

// Applied reports whether the event with key has already been folded in.
func (s State) Applied(key string) bool {
	return s.applied.has(key, s.appliedN)
}

func (s *State) markApplied(key string) {
	s.applied = s.applied.add(key, s.appliedN)
	s.appliedN++
}

func (s State) Streaming() bool {
	return s.ActiveMessageID != ""
}

func (s State) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) clone() State {
	next := s
	next.Messages = append([]types.UIMessage(nil), s.Messages...)
	next.Side = s.Side.Clone()
	next.seqs = maps.Clone(s.seqs)
	next.roles = maps.Clone(s.roles)
	next.parts = maps.Clone(s.parts)
	next.steps = maps.Clone(s.steps)
	if next.seqs == nil {
		next.seqs = map[string]int64{}
	}
	if next.roles == nil {
		next.roles = map[string]types.Role{}
	}
	if next.parts == nil {
		next.parts = map[string]partTrack{}
	}
	if next.steps == nil {
		next.steps = map[string]struct{}{}
	}
	return next
}

func (t partTrack) clone() partTrack {
	return partTrack{
		text:          append([]segment(nil), t.text...),
		reasoning:     append([]segment(nil), t.reasoning...),
		authoritative: t.authoritative,
	}
}

// keyLog is an append-only set of event keys that successive states share, so
// folding an event does not copy every key seen so far. Each key remembers
// its position; a state only sees the positions below its own count.
type keyLog struct {
	mu    sync.RWMutex
	index map[string]int
}

func (l *keyLog) has(key string, n int) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[key]
	return ok && pos < n
}

// add appends key at position n and returns the log the new state uses. When
// another state already extended the log past n, the first n keys are copied
// into a fresh log and the shared one is left alone.
func (l *keyLog) add(key string, n int) *keyLog {
	if l == nil {
		return &keyLog{index: map[string]int{key: n}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.index) == n {
		l.index[key] = n
		return l
	}
	fork := &keyLog{index: make(map[string]int, n+1)}
	for k, pos := range l.index {
		if pos < n {
			fork.index[k] = pos
		}
	}
	fork.index[key] = n
	return fork
}
