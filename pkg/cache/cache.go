// Package cache is the client-side local store used by the sync
// coordinator: full message histories and per-topic sync cursors, kept in a
// Pebble database so a device can render and resume offline. The cache is
// never authoritative; losing it only forces a full re-sync.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/merge"
	"chatsyncd/pkg/models"
)

// Cache wraps a Pebble database holding cached histories and cursors.
type Cache struct {
	db *pebble.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Cache, error) {
	logger.Info("opening_cache_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func historyKey(agentID, topicID string) []byte {
	return []byte("history:" + agentID + ":" + topicID)
}

func cursorKey(agentID, topicID string) []byte {
	return []byte("cursor:" + agentID + ":" + topicID)
}

// Messages returns the cached history for (agentID, topicID), or an empty
// slice when nothing is cached.
func (c *Cache) Messages(agentID, topicID string) ([]models.Message, error) {
	if c.db == nil {
		return nil, fmt.Errorf("cache not opened; call cache.Open first")
	}
	v, closer, err := c.db.Get(historyKey(agentID, topicID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return []models.Message{}, nil
		}
		return nil, err
	}
	defer closer.Close()
	var msgs []models.Message
	if err := json.Unmarshal(v, &msgs); err != nil {
		return nil, fmt.Errorf("corrupt cached history %s/%s: %w", agentID, topicID, err)
	}
	return msgs, nil
}

// PutMessages replaces the cached history for (agentID, topicID).
func (c *Cache) PutMessages(agentID, topicID string, msgs []models.Message) error {
	if c.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.db.Set(historyKey(agentID, topicID), data, pebble.Sync)
}

// ApplyServerMessages merges messages received from the server into the
// cached history and returns the merged view along with the count of
// records that were new to the cache.
func (c *Cache) ApplyServerMessages(agentID, topicID string, incoming []models.Message) ([]models.Message, int, error) {
	existing, err := c.Messages(agentID, topicID)
	if err != nil {
		return nil, 0, err
	}
	merged, newCount := merge.Messages(existing, incoming)
	if newCount == 0 {
		return merged, 0, nil
	}
	if err := c.PutMessages(agentID, topicID, merged); err != nil {
		return nil, 0, err
	}
	return merged, newCount, nil
}

// Cursor returns the last sync timestamp recorded for (agentID, topicID),
// or 0 when the pair has never synced.
func (c *Cache) Cursor(agentID, topicID string) (int64, error) {
	if c.db == nil {
		return 0, fmt.Errorf("cache not opened; call cache.Open first")
	}
	v, closer, err := c.db.Get(cursorKey(agentID, topicID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	var ts int64
	if err := json.Unmarshal(v, &ts); err != nil {
		// a damaged cursor falls back to a full sync
		logger.Warn("cache_cursor_corrupt", "agent", agentID, "topic", topicID, "error", err)
		return 0, nil
	}
	return ts, nil
}

// SetCursor records ts as the last sync timestamp for (agentID, topicID).
func (c *Cache) SetCursor(agentID, topicID string, ts int64) error {
	if c.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	return c.db.Set(cursorKey(agentID, topicID), data, pebble.Sync)
}

// ClearCursor removes the cursor for (agentID, topicID), forcing the next
// sync of that pair to be a full exchange.
func (c *Cache) ClearCursor(agentID, topicID string) error {
	if c.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	return c.db.Delete(cursorKey(agentID, topicID), pebble.Sync)
}

// CachedTopics lists the topic ids with a cached history for agentID.
func (c *Cache) CachedTopics(agentID string) ([]string, error) {
	if c.db == nil {
		return nil, fmt.Errorf("cache not opened; call cache.Open first")
	}
	prefix := []byte("history:" + agentID + ":")
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return out, iter.Error()
}
