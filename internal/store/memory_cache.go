package store

import (
	"context"
	"sync"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

type MemoryCache struct {
	mu       sync.RWMutex
	sides    map[string]types.SideChannel
	sessions map[string]types.Session
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		sides:    map[string]types.SideChannel{},
		sessions: map[string]types.Session{},
	}
}

func (c *MemoryCache) Load(_ context.Context, sessionID string) (types.SideChannel, bool, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return types.SideChannel{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	side, ok := c.sides[id]
	if !ok {
		return types.SideChannel{}, false, nil
	}
	return side.Clone(), true, nil
}

func (c *MemoryCache) Save(_ context.Context, sessionID string, side types.SideChannel) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sides[id] = side.Clone()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, sessionID string) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sides, id)
	delete(c.sessions, id)
	return nil
}

func (c *MemoryCache) Sessions(context.Context) ([]types.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		out = append(out, session)
	}
	sortSessions(out)
	return out, nil
}

func (c *MemoryCache) PutSession(_ context.Context, session types.Session) error {
	id, err := normalizeSessionID(session.ID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session.ID = id
	c.sessions[id] = mergeSession(c.sessions[id], session)
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}
