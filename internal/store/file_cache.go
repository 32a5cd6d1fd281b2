package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

const sessionCacheFileVersion = 1

type sessionCacheFile struct {
	Version  int                          `json:"version"`
	Sides    map[string]types.SideChannel `json:"sides"`
	Sessions map[string]types.Session     `json:"sessions"`
}

// FileCache stores the whole cache in one JSON document that is rewritten
// atomically on every change.
type FileCache struct {
	path string
	mu   sync.Mutex
}

func NewFileCache(path string) (*FileCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache file path is required")
	}
	return &FileCache{path: path}, nil
}

func (c *FileCache) Load(_ context.Context, sessionID string) (types.SideChannel, bool, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return types.SideChannel{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	file, err := c.read()
	if err != nil {
		return types.SideChannel{}, false, err
	}
	side, ok := file.Sides[id]
	return side, ok, nil
}

func (c *FileCache) Save(_ context.Context, sessionID string, side types.SideChannel) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	file, err := c.read()
	if err != nil {
		return err
	}
	file.Sides[id] = side
	return writeJSONAtomic(c.path, file)
}

func (c *FileCache) Delete(_ context.Context, sessionID string) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	file, err := c.read()
	if err != nil {
		return err
	}
	delete(file.Sides, id)
	delete(file.Sessions, id)
	return writeJSONAtomic(c.path, file)
}

func (c *FileCache) Sessions(context.Context) ([]types.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file, err := c.read()
	if err != nil {
		return nil, err
	}
	out := make([]types.Session, 0, len(file.Sessions))
	for _, session := range file.Sessions {
		out = append(out, session)
	}
	sortSessions(out)
	return out, nil
}

func (c *FileCache) PutSession(_ context.Context, session types.Session) error {
	id, err := normalizeSessionID(session.ID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	file, err := c.read()
	if err != nil {
		return err
	}
	session.ID = id
	file.Sessions[id] = mergeSession(file.Sessions[id], session)
	return writeJSONAtomic(c.path, file)
}

func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) read() (*sessionCacheFile, error) {
	file := &sessionCacheFile{Version: sessionCacheFileVersion}
	if err := readJSON(c.path, file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if file.Sides == nil {
		file.Sides = map[string]types.SideChannel{}
	}
	if file.Sessions == nil {
		file.Sessions = map[string]types.Session{}
	}
	file.Version = sessionCacheFileVersion
	return file, nil
}

// readJSON leaves v untouched for an empty file.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ship-cache-*.json")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
