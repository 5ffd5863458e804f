// Package bridge adapts the sync service to the legacy desktop client's
// storage convention. The desktop app addresses history by directory id
// rather than agent id and tracks topic membership inside each agent's
// config.json, not in the topic registry:
//
//	<root>/AppData/UserData/<agentDirId>/topics/<topicId>/history.json
//	<root>/AppData/Agents/<agentDirId>/config.json
//
// Its append path deliberately bypasses timestamp reconciliation: the legacy
// log has no competing server-side writer per topic, so pure id-existence
// dedup is sufficient there.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/merge"
	"chatsyncd/pkg/models"
	"chatsyncd/pkg/store"
	"chatsyncd/pkg/utils"
)

// ErrBadKey mirrors the store's key validation for the bridge's key space.
var ErrBadKey = errors.New("invalid agentDirId or topicId")

// Bridge serves the desktop-side storage tree rooted at the desktop app's
// install directory.
type Bridge struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Bridge rooted at the desktop application directory. The
// directory is not created here: an absent tree simply reads as empty, the
// same way the desktop app behaves before first run.
func New(root string) *Bridge {
	return &Bridge{root: root, locks: make(map[string]*sync.Mutex)}
}

func (b *Bridge) lock(key string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	b.locks[key] = l
	return l
}

func validKey(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

func (b *Bridge) topicDir(agentDirID, topicID string) string {
	return filepath.Join(b.root, "AppData", "UserData", agentDirID, "topics", topicID)
}

func (b *Bridge) historyPath(agentDirID, topicID string) string {
	return filepath.Join(b.topicDir(agentDirID, topicID), "history.json")
}

func (b *Bridge) configPath(agentDirID string) string {
	return filepath.Join(b.root, "AppData", "Agents", agentDirID, "config.json")
}

// History is the result of a conditional read of a desktop-side log.
type History struct {
	Messages     []models.Message
	LastModified int64
	NotModified  bool
}

// ReadHistory reads the desktop-side log for (agentDirID, topicID). When
// ifModifiedSince is at or past the file's mtime the payload is skipped and
// NotModified is set instead. A missing file is an empty history with
// LastModified 0.
func (b *Bridge) ReadHistory(agentDirID, topicID string, ifModifiedSince int64) (History, error) {
	if !validKey(agentDirID) || !validKey(topicID) {
		return History{}, ErrBadKey
	}
	lk := b.lock(agentDirID + "/" + topicID)
	lk.Lock()
	defer lk.Unlock()

	path := b.historyPath(agentDirID, topicID)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return History{Messages: []models.Message{}}, nil
		}
		return History{}, fmt.Errorf("stat %s: %w", path, err)
	}
	lastModified := fi.ModTime().UnixMilli()

	if ifModifiedSince > 0 && ifModifiedSince >= lastModified {
		return History{LastModified: lastModified, NotModified: true}, nil
	}

	var raw []models.Message
	if err := store.ReadJSONFile(path, &raw); err != nil {
		return History{}, fmt.Errorf("read %s: %w", path, err)
	}

	// the desktop app tolerates sparse records; fill in the fields the
	// mobile side requires
	msgs := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			ts := m.Timestamp
			if ts == 0 {
				ts = utils.NowMillis()
			}
			m.ID = fmt.Sprintf("msg_%d", ts)
		}
		msgs = append(msgs, m)
	}
	return History{Messages: msgs, LastModified: lastModified}, nil
}

// AppendHistory appends the messages whose ids are not yet present in the
// desktop-side log, persisting atomically, and registers the topic in the
// agent's config.json when it is new there. The config update runs in its
// own failure boundary: a config.json problem is logged and does not fail
// the append (both sides are idempotent and self-heal on the next pass).
func (b *Bridge) AppendHistory(agentDirID, topicID, topicName string, incoming []models.Message) (appended, total int, err error) {
	if !validKey(agentDirID) || !validKey(topicID) {
		return 0, 0, ErrBadKey
	}
	lk := b.lock(agentDirID + "/" + topicID)
	lk.Lock()
	defer lk.Unlock()

	dir := b.topicDir(agentDirID, topicID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := b.historyPath(agentDirID, topicID)

	var existing []models.Message
	if err := store.ReadJSONFile(path, &existing); err != nil && !errors.Is(err, os.ErrNotExist) {
		// unreadable file starts over rather than blocking the append; the
		// desktop app does the same on a corrupt history
		logger.Warn("bridge_history_unreadable", "path", path, "error", err)
		existing = nil
	}

	merged, appended := merge.AppendNew(existing, normalize(incoming))
	if appended == 0 {
		return 0, len(existing), nil
	}
	if err := store.WriteJSONAtomic(path, merged); err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", path, err)
	}

	if err := b.registerTopic(agentDirID, topicID, topicName); err != nil {
		logger.Warn("bridge_config_update_failed", "agentDir", agentDirID, "topic", topicID, "error", err)
	}

	logger.Info("bridge_appended", "agentDir", agentDirID, "topic", topicID, "appended", appended, "total", len(merged))
	return appended, len(merged), nil
}

// normalize fills the defaults the desktop format expects on records coming
// from the mobile side.
func normalize(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "" {
			m.Role = models.RoleUser
		}
		if m.Timestamp == 0 {
			m.Timestamp = utils.NowMillis()
		}
		if m.Attachments == nil {
			m.Attachments = []models.Attachment{}
		}
		out = append(out, m)
	}
	return out
}

// registerTopic inserts a topic entry at the head of the agent's config.json
// topics list when the id is not yet present. All other config.json fields
// are preserved byte-for-byte.
func (b *Bridge) registerTopic(agentDirID, topicID, topicName string) error {
	path := b.configPath(agentDirID)
	lk := b.lock("config.json:" + agentDirID)
	lk.Lock()
	defer lk.Unlock()

	var cfg map[string]json.RawMessage
	if err := store.ReadJSONFile(path, &cfg); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// a config.json holding the literal null decodes to a nil map
	if cfg == nil {
		cfg = map[string]json.RawMessage{}
	}

	var topics []models.Topic
	if raw, ok := cfg["topics"]; ok {
		if err := json.Unmarshal(raw, &topics); err != nil {
			return fmt.Errorf("parse topics in %s: %w", path, err)
		}
	}
	for _, t := range topics {
		if t.Key() == topicID {
			return nil
		}
	}

	if topicName == "" {
		topicName = "Mobile topic " + time.Now().Format("2006-01-02 15:04")
	}
	topics = append([]models.Topic{{ID: topicID, Name: topicName, CreatedAt: utils.NowMillis()}}, topics...)

	raw, err := json.Marshal(topics)
	if err != nil {
		return err
	}
	cfg["topics"] = raw
	if err := store.WriteJSONAtomic(path, cfg); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("bridge_topic_registered", "agentDir", agentDirID, "topic", topicID)
	return nil
}

// DeleteTopic removes the topic from the agent's config.json and deletes the
// topic directory. The two steps are isolated: a failure in either is logged
// and does not block the other.
func (b *Bridge) DeleteTopic(agentDirID, topicID string) error {
	if !validKey(agentDirID) || !validKey(topicID) {
		return ErrBadKey
	}

	if err := b.unregisterTopic(agentDirID, topicID); err != nil {
		logger.Warn("bridge_config_update_failed", "agentDir", agentDirID, "topic", topicID, "error", err)
	}

	lk := b.lock(agentDirID + "/" + topicID)
	lk.Lock()
	dir := b.topicDir(agentDirID, topicID)
	err := os.RemoveAll(dir)
	lk.Unlock()
	if err != nil {
		logger.Warn("bridge_topic_dir_remove_failed", "dir", dir, "error", err)
	}

	logger.Info("bridge_topic_deleted", "agentDir", agentDirID, "topic", topicID)
	return nil
}

func (b *Bridge) unregisterTopic(agentDirID, topicID string) error {
	path := b.configPath(agentDirID)
	lk := b.lock("config.json:" + agentDirID)
	lk.Lock()
	defer lk.Unlock()

	var cfg map[string]json.RawMessage
	if err := store.ReadJSONFile(path, &cfg); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if cfg == nil {
		cfg = map[string]json.RawMessage{}
	}
	var topics []models.Topic
	if raw, ok := cfg["topics"]; ok {
		if err := json.Unmarshal(raw, &topics); err != nil {
			return fmt.Errorf("parse topics in %s: %w", path, err)
		}
	}
	kept := topics[:0]
	for _, t := range topics {
		if t.Key() != topicID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(topics) {
		return nil
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	cfg["topics"] = raw
	return store.WriteJSONAtomic(path, cfg)
}

// AgentInfo is one desktop agent as listed for the mobile client.
type AgentInfo struct {
	Name       string         `json:"name"`
	AgentDirID string         `json:"agentDirId"`
	Topics     []models.Topic `json:"topics"`
}

// ListAgents enumerates the desktop agents under AppData/Agents. Agents with
// an unreadable config.json are skipped with a warning, matching the
// desktop app's own tolerance.
func (b *Bridge) ListAgents() ([]AgentInfo, error) {
	agentsDir := filepath.Join(b.root, "AppData", "Agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []AgentInfo{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", agentsDir, err)
	}

	agents := make([]AgentInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var cfg struct {
			Name   string         `json:"name"`
			Topics []models.Topic `json:"topics"`
		}
		path := b.configPath(e.Name())
		if err := store.ReadJSONFile(path, &cfg); err != nil {
			logger.Warn("bridge_agent_config_unreadable", "agentDir", e.Name(), "error", err)
			continue
		}
		name := cfg.Name
		if name == "" {
			name = e.Name()
		}
		topics := cfg.Topics
		if topics == nil {
			topics = []models.Topic{}
		}
		agents = append(agents, AgentInfo{Name: name, AgentDirID: e.Name(), Topics: topics})
	}
	return agents, nil
}
