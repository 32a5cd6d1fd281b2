package orchestrator

import "sync"

const subscriberBuffer = 64

type snapshotHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
}

func newSnapshotHub() *snapshotHub {
	return &snapshotHub{subs: make(map[int]chan Snapshot)}
}

func (h *snapshotHub) Add() (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Snapshot, subscriberBuffer)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		sub, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(sub)
		}
	}
	return ch, cancel
}

func (h *snapshotHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast never blocks: a subscriber whose buffer is full misses the
// snapshot and catches up on the next one.
func (h *snapshotHub) Broadcast(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- snap:
		default:
		}
	}
}

func (h *snapshotHub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]chan Snapshot)
	h.mu.Unlock()
	for _, sub := range subs {
		close(sub)
	}
}
