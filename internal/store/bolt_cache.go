package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

var (
	bucketSideChannels = []byte("side_channels")
	bucketSessions     = []byte("sessions")
)

// BoltCache is the default cache, one key per session in each bucket.
type BoltCache struct {
	db *bolt.DB
}

func NewBoltCache(path string) (*BoltCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cache db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initCacheSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltCache{db: db}, nil
}

func initCacheSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSideChannels, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCache) Load(ctx context.Context, sessionID string) (types.SideChannel, bool, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return types.SideChannel{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return types.SideChannel{}, false, err
	}
	var side types.SideChannel
	found := false
	err = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSideChannels).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &side)
	})
	if err != nil {
		return types.SideChannel{}, false, err
	}
	return side, found, nil
}

func (c *BoltCache) Save(ctx context.Context, sessionID string, side types.SideChannel) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(side)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSideChannels).Put([]byte(id), data)
	})
}

func (c *BoltCache) Delete(ctx context.Context, sessionID string) error {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSideChannels).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

func (c *BoltCache) Sessions(ctx context.Context) ([]types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []types.Session{}
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, value []byte) error {
			var session types.Session
			if err := json.Unmarshal(value, &session); err != nil {
				return err
			}
			out = append(out, session)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

func (c *BoltCache) PutSession(ctx context.Context, session types.Session) error {
	id, err := normalizeSessionID(session.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	session.ID = id
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		var existing types.Session
		if data := bucket.Get([]byte(id)); data != nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
		}
		data, err := json.Marshal(mergeSession(existing, session))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
}

func (c *BoltCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
