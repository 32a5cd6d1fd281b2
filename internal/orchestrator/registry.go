package orchestrator

import (
	"sync"

	"github.com/adhyaay-karnwal/ship/internal/transport"
)

type registryEntry struct {
	gen     uint64
	channel transport.Channel
}

// channelRegistry tracks the open channel per session and the activation
// generation that opened it.
type channelRegistry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{entries: map[string]registryEntry{}}
}

// Put records ch for sessionID and returns the channel it replaced, which the
// caller must disconnect.
func (r *channelRegistry) Put(sessionID string, gen uint64, ch transport.Channel) transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[sessionID]
	r.entries[sessionID] = registryEntry{gen: gen, channel: ch}
	return prev.channel
}

// Get returns the channel for sessionID only if it belongs to gen.
func (r *channelRegistry) Get(sessionID string, gen uint64) (transport.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	if !ok || entry.gen != gen {
		return nil, false
	}
	return entry.channel, true
}

func (r *channelRegistry) Take(sessionID string) transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.entries[sessionID]
	delete(r.entries, sessionID)
	return entry.channel
}

func (r *channelRegistry) TakeAll() []transport.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Channel, 0, len(r.entries))
	for id, entry := range r.entries {
		out = append(out, entry.channel)
		delete(r.entries, id)
	}
	return out
}
