// Package store owns the durable per-(agent, topic) message logs and the
// per-agent topic registry documents. Every log write is atomic from the
// reader's point of view (temp file + rename) and every read-merge-write
// cycle for a given key is serialized behind a per-key lock.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/merge"
	"chatsyncd/pkg/models"
	"chatsyncd/pkg/utils"
)

// StorageError wraps any local persistence failure so callers can
// distinguish storage faults from protocol or validation errors.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// ErrBadKey is returned when an agent or topic id would escape the data
// directory.
var ErrBadKey = errors.New("invalid agent or topic id")

// Store is the authoritative message store rooted at a data directory:
//
//	<dir>/<agentId>/topics.json
//	<dir>/<agentId>/topics/<topicId>/history.json
type Store struct {
	dir   string
	locks lockTable
}

// Open creates (if needed) and returns a Store rooted at dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, storageErr("open", dir, errors.New("empty data dir"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("open", dir, err)
	}
	logger.Info("store_opened", "dir", dir)
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// validKey rejects ids that would traverse outside the data directory.
func validKey(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return false
	}
	return true
}

func (s *Store) topicDir(agentID, topicID string) string {
	return filepath.Join(s.dir, agentID, "topics", topicID)
}

func (s *Store) historyPath(agentID, topicID string) string {
	return filepath.Join(s.topicDir(agentID, topicID), "history.json")
}

func (s *Store) topicsPath(agentID string) string {
	return filepath.Join(s.dir, agentID, "topics.json")
}

func historyKey(agentID, topicID string) string { return agentID + "/" + topicID }

// registry documents get their own lock namespace so a topics.json update
// never contends with a history write
func registryKey(agentID string) string { return "topics.json:" + agentID }

// Outcome is the result of one Sync merge round on the store side.
type Outcome struct {
	ServerNew        []models.Message
	MergedCount      int
	NewFromClient    int
	NewSyncTimestamp int64
}

// Read returns the full log for (agentID, topicID). A missing log is an
// empty topic, not an error.
func (s *Store) Read(agentID, topicID string) ([]models.Message, error) {
	if !validKey(agentID) || !validKey(topicID) {
		return nil, ErrBadKey
	}
	lk := s.locks.get(historyKey(agentID, topicID))
	lk.Lock()
	defer lk.Unlock()
	return s.readLocked(agentID, topicID)
}

func (s *Store) readLocked(agentID, topicID string) ([]models.Message, error) {
	var msgs []models.Message
	path := s.historyPath(agentID, topicID)
	if err := ReadJSONFile(path, &msgs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Message{}, nil
		}
		return nil, storageErr("read", path, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// Overwrite replaces the entire log for (agentID, topicID). Used by the full
// resync path; incremental traffic goes through Sync.
func (s *Store) Overwrite(agentID, topicID string, msgs []models.Message) error {
	if !validKey(agentID) || !validKey(topicID) {
		return ErrBadKey
	}
	lk := s.locks.get(historyKey(agentID, topicID))
	lk.Lock()
	defer lk.Unlock()
	return s.writeLocked(agentID, topicID, msgs)
}

func (s *Store) writeLocked(agentID, topicID string, msgs []models.Message) error {
	dir := s.topicDir(agentID, topicID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("mkdir", dir, err)
	}
	path := s.historyPath(agentID, topicID)
	if err := WriteJSONAtomic(path, msgs); err != nil {
		return storageErr("write", path, err)
	}
	return nil
}

// Sync loads the existing log, merges incoming through the merge engine,
// persists the result when the client contributed anything new, and reports
// the slice newer than since plus the authoritative next cursor. The whole
// read-merge-write cycle holds the per-key lock; two concurrent calls for
// the same key cannot lose each other's messages.
func (s *Store) Sync(agentID, topicID string, incoming []models.Message, since int64) (Outcome, error) {
	if !validKey(agentID) || !validKey(topicID) {
		return Outcome{}, ErrBadKey
	}
	lk := s.locks.get(historyKey(agentID, topicID))
	lk.Lock()
	defer lk.Unlock()

	existing, err := s.readLocked(agentID, topicID)
	if err != nil {
		return Outcome{}, err
	}

	merged, newCount := merge.Messages(existing, incoming)
	if newCount > 0 {
		if err := s.writeLocked(agentID, topicID, merged); err != nil {
			return Outcome{}, err
		}
		logger.Debug("sync_merged", "agent", agentID, "topic", topicID, "new", newCount, "total", len(merged))
	}

	// the cursor must advance even for an empty topic so a client's first
	// sync of a fresh topic still lands on a non-zero watermark
	newTS := merge.MaxTimestamp(merged)
	if len(merged) == 0 {
		newTS = utils.NowMillis()
	}
	return Outcome{
		ServerNew:        merge.After(merged, since),
		MergedCount:      len(merged),
		NewFromClient:    newCount,
		NewSyncTimestamp: newTS,
	}, nil
}

// DeleteTopic removes the topic's log and its directory. Absence is success.
func (s *Store) DeleteTopic(agentID, topicID string) error {
	if !validKey(agentID) || !validKey(topicID) {
		return ErrBadKey
	}
	lk := s.locks.get(historyKey(agentID, topicID))
	lk.Lock()
	defer lk.Unlock()
	dir := s.topicDir(agentID, topicID)
	if err := os.RemoveAll(dir); err != nil {
		return storageErr("delete", dir, err)
	}
	logger.Info("topic_deleted", "agent", agentID, "topic", topicID)
	return nil
}

// ListAgents returns the ids of every agent with synced data.
func (s *Store) ListAgents() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, storageErr("list", s.dir, err)
	}
	agents := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	return agents, nil
}

// Topics returns the registry document for agentID; missing means empty.
func (s *Store) Topics(agentID string) ([]models.Topic, error) {
	if !validKey(agentID) {
		return nil, ErrBadKey
	}
	lk := s.locks.get(registryKey(agentID))
	lk.Lock()
	defer lk.Unlock()
	return s.topicsLocked(agentID)
}

func (s *Store) topicsLocked(agentID string) ([]models.Topic, error) {
	var topics []models.Topic
	path := s.topicsPath(agentID)
	if err := ReadJSONFile(path, &topics); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Topic{}, nil
		}
		return nil, storageErr("read", path, err)
	}
	if topics == nil {
		topics = []models.Topic{}
	}
	return topics, nil
}

// MergeTopics merges incoming into the agent's registry document (keyed
// union, incoming wins) and persists the result. Returns the merged list.
// The registry is independent of message logs: a topic may be registered
// here before any message exists for it.
func (s *Store) MergeTopics(agentID string, incoming []models.Topic) ([]models.Topic, error) {
	if !validKey(agentID) {
		return nil, ErrBadKey
	}
	lk := s.locks.get(registryKey(agentID))
	lk.Lock()
	defer lk.Unlock()

	existing, err := s.topicsLocked(agentID)
	if err != nil {
		return nil, err
	}
	merged := merge.Topics(existing, incoming)

	path := s.topicsPath(agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("mkdir", filepath.Dir(path), err)
	}
	if err := WriteJSONAtomic(path, merged); err != nil {
		return nil, storageErr("write", path, err)
	}
	logger.Debug("topics_merged", "agent", agentID, "count", len(merged))
	return merged, nil
}

