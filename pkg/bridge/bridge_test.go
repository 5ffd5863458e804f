package bridge

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chatsyncd/pkg/models"
	"chatsyncd/pkg/store"
)

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Content: "c-" + id, Timestamp: ts}
}

// seedAgent lays out a desktop agent directory with a config.json carrying
// extra fields the desktop app owns.
func seedAgent(t *testing.T, root, agentDirID string) {
	t.Helper()
	dir := filepath.Join(root, "AppData", "Agents", agentDirID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir agent: %v", err)
	}
	cfg := `{"name":"Nova","systemPrompt":"You are Nova.","model":"test-model","topics":[]}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// TestReadHistoryMissing verifies a never-written topic reads as empty with
// LastModified 0.
func TestReadHistoryMissing(t *testing.T) {
	b := New(t.TempDir())
	h, err := b.ReadHistory("agent1", "topic1", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if h.NotModified || h.LastModified != 0 || len(h.Messages) != 0 {
		t.Fatalf("expected empty history; got %+v", h)
	}
}

// TestAppendHistoryDedup verifies the append path skips ids already present
// and never rewrites existing records.
func TestAppendHistoryDedup(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agent1")
	b := New(root)

	appended, total, err := b.AppendHistory("agent1", "topic1", "Test topic", []models.Message{msg("m1", 100), msg("m2", 200)})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if appended != 2 || total != 2 {
		t.Fatalf("first append: appended=%d total=%d", appended, total)
	}

	// m1 again (even with a newer timestamp) plus a new m3
	appended, total, err = b.AppendHistory("agent1", "topic1", "Test topic", []models.Message{
		{ID: "m1", Content: "rewritten", Timestamp: 999},
		msg("m3", 300),
	})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if appended != 1 || total != 3 {
		t.Fatalf("second append: appended=%d total=%d", appended, total)
	}

	h, err := b.ReadHistory("agent1", "topic1", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if h.Messages[0].Content != "c-m1" {
		t.Fatalf("append must never overwrite an existing record: %+v", h.Messages[0])
	}
}

// TestAppendRegistersTopic verifies a new topic lands at the head of
// config.json's topics list while every other config field survives intact.
func TestAppendRegistersTopic(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agent1")
	b := New(root)

	if _, _, err := b.AppendHistory("agent1", "topicA", "First", []models.Message{msg("m1", 100)}); err != nil {
		t.Fatalf("AppendHistory A: %v", err)
	}
	if _, _, err := b.AppendHistory("agent1", "topicB", "Second", []models.Message{msg("m2", 200)}); err != nil {
		t.Fatalf("AppendHistory B: %v", err)
	}

	var cfg map[string]json.RawMessage
	if err := store.ReadJSONFile(b.configPath("agent1"), &cfg); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(cfg["systemPrompt"]) != `"You are Nova."` {
		t.Fatalf("desktop-owned fields must be preserved: %s", cfg["systemPrompt"])
	}
	var topics []models.Topic
	if err := json.Unmarshal(cfg["topics"], &topics); err != nil {
		t.Fatalf("parse topics: %v", err)
	}
	if len(topics) != 2 || topics[0].ID != "topicB" || topics[1].ID != "topicA" {
		t.Fatalf("newest topic must sit at the head: %+v", topics)
	}

	// appending more messages to a registered topic must not duplicate it
	if _, _, err := b.AppendHistory("agent1", "topicA", "First", []models.Message{msg("m3", 300)}); err != nil {
		t.Fatalf("AppendHistory A again: %v", err)
	}
	if err := store.ReadJSONFile(b.configPath("agent1"), &cfg); err != nil {
		t.Fatalf("reread config: %v", err)
	}
	if err := json.Unmarshal(cfg["topics"], &topics); err != nil {
		t.Fatalf("reparse topics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("re-append duplicated the registry entry: %+v", topics)
	}
}

// TestAppendFillsDefaults verifies mobile records missing role, timestamp or
// attachments get the defaults the desktop format expects.
func TestAppendFillsDefaults(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agent1")
	b := New(root)

	if _, _, err := b.AppendHistory("agent1", "topic1", "", []models.Message{{ID: "bare"}}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	h, err := b.ReadHistory("agent1", "topic1", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	m := h.Messages[0]
	if m.Role != models.RoleUser || m.Timestamp == 0 || m.Attachments == nil {
		t.Fatalf("defaults not filled: %+v", m)
	}
}

// TestReadHistoryNotModified verifies the ifModifiedSince short-circuit.
func TestReadHistoryNotModified(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agent1")
	b := New(root)
	if _, _, err := b.AppendHistory("agent1", "topic1", "", []models.Message{msg("m1", 100)}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	first, err := b.ReadHistory("agent1", "topic1", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if first.LastModified == 0 {
		t.Fatalf("expected a file mtime; got %+v", first)
	}

	h, err := b.ReadHistory("agent1", "topic1", first.LastModified)
	if err != nil {
		t.Fatalf("conditional ReadHistory: %v", err)
	}
	if !h.NotModified || h.Messages != nil {
		t.Fatalf("equal watermark must short-circuit: %+v", h)
	}

	// an older watermark gets the payload again
	h, err = b.ReadHistory("agent1", "topic1", first.LastModified-1000)
	if err != nil {
		t.Fatalf("stale ReadHistory: %v", err)
	}
	if h.NotModified || len(h.Messages) != 1 {
		t.Fatalf("stale watermark must return payload: %+v", h)
	}
}

// TestReadHistoryFillsMissingIDs verifies id-less desktop records get a
// derived id on the way out.
func TestReadHistoryFillsMissingIDs(t *testing.T) {
	root := t.TempDir()
	b := New(root)
	dir := b.topicDir("agent1", "topic1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := `[{"role":"user","content":"hi","timestamp":12345}]`
	if err := os.WriteFile(filepath.Join(dir, "history.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write history: %v", err)
	}

	h, err := b.ReadHistory("agent1", "topic1", 0)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(h.Messages) != 1 || h.Messages[0].ID != "msg_12345" {
		t.Fatalf("expected derived id msg_12345; got %+v", h.Messages)
	}
}

// TestDeleteTopic verifies delete removes both the registry entry and the
// topic directory, and stays a success when either side is already gone.
func TestDeleteTopic(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agent1")
	b := New(root)
	if _, _, err := b.AppendHistory("agent1", "topic1", "Doomed", []models.Message{msg("m1", 100)}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := b.DeleteTopic("agent1", "topic1"); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
	if _, err := os.Stat(b.topicDir("agent1", "topic1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("topic dir must be gone: %v", err)
	}
	var cfg struct {
		Topics []models.Topic `json:"topics"`
	}
	if err := store.ReadJSONFile(b.configPath("agent1"), &cfg); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if len(cfg.Topics) != 0 {
		t.Fatalf("registry entry must be gone: %+v", cfg.Topics)
	}

	// deleting again is still fine
	if err := b.DeleteTopic("agent1", "topic1"); err != nil {
		t.Fatalf("second DeleteTopic: %v", err)
	}
}

// TestListAgents verifies enumeration, the name fallback and skipping of
// agents with a broken config.json.
func TestListAgents(t *testing.T) {
	root := t.TempDir()
	seedAgent(t, root, "agentA")

	// agentB has a config with no name
	dirB := filepath.Join(root, "AppData", "Agents", "agentB")
	if err := os.MkdirAll(dirB, 0o755); err != nil {
		t.Fatalf("mkdir B: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirB, "config.json"), []byte(`{"topics":[{"id":"t1","name":"only"}]}`), 0o644); err != nil {
		t.Fatalf("write B config: %v", err)
	}

	// agentC's config is corrupt
	dirC := filepath.Join(root, "AppData", "Agents", "agentC")
	if err := os.MkdirAll(dirC, 0o755); err != nil {
		t.Fatalf("mkdir C: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dirC, "config.json"), []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("write C config: %v", err)
	}

	b := New(root)
	agents, err := b.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("corrupt agent must be skipped: %+v", agents)
	}
	byDir := make(map[string]AgentInfo, len(agents))
	for _, a := range agents {
		byDir[a.AgentDirID] = a
	}
	if byDir["agentA"].Name != "Nova" {
		t.Fatalf("agentA name: %+v", byDir["agentA"])
	}
	if byDir["agentB"].Name != "agentB" || len(byDir["agentB"].Topics) != 1 {
		t.Fatalf("agentB fallback name or topics wrong: %+v", byDir["agentB"])
	}
}

// TestListAgentsMissingRoot verifies an absent desktop tree lists as empty.
func TestListAgentsMissingRoot(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "never-created"))
	agents, err := b.ListAgents()
	if err != nil || len(agents) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, agents)
	}
}

// TestBadKeysRejected covers the bridge's key validation.
func TestBadKeysRejected(t *testing.T) {
	b := New(t.TempDir())
	for _, bad := range []string{"", "..", "../x", "a/b"} {
		if _, err := b.ReadHistory(bad, "t", 0); !errors.Is(err, ErrBadKey) {
			t.Fatalf("agentDir %q: expected ErrBadKey, got %v", bad, err)
		}
		if _, _, err := b.AppendHistory("a", bad, "", nil); !errors.Is(err, ErrBadKey) {
			t.Fatalf("topic %q: expected ErrBadKey, got %v", bad, err)
		}
		if err := b.DeleteTopic(bad, "t"); !errors.Is(err, ErrBadKey) {
			t.Fatalf("delete %q: expected ErrBadKey, got %v", bad, err)
		}
	}
}

// TestAppendNullConfig verifies a config.json holding the JSON literal null
// does not break the append; registration rebuilds the config around a
// topics list.
func TestAppendNullConfig(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "AppData", "Agents", "agent1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir agent: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("null"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	b := New(root)

	appended, total, err := b.AppendHistory("agent1", "topic1", "Recovered", []models.Message{msg("m1", 100)})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if appended != 1 || total != 1 {
		t.Fatalf("append: appended=%d total=%d", appended, total)
	}

	var cfg map[string]json.RawMessage
	if err := store.ReadJSONFile(filepath.Join(dir, "config.json"), &cfg); err != nil {
		t.Fatalf("re-read config: %v", err)
	}
	var topics []models.Topic
	if err := json.Unmarshal(cfg["topics"], &topics); err != nil {
		t.Fatalf("parse topics: %v", err)
	}
	if len(topics) != 1 || topics[0].Key() != "topic1" {
		t.Fatalf("topic not registered: %+v", topics)
	}

	if err := b.DeleteTopic("agent1", "topic1"); err != nil {
		t.Fatalf("DeleteTopic: %v", err)
	}
}

// TestAppendWithoutConfig verifies appending for an agent with no config.json
// still persists the history; only the registration is skipped.
func TestAppendWithoutConfig(t *testing.T) {
	b := New(t.TempDir())
	appended, total, err := b.AppendHistory("ghost", "topic1", "", []models.Message{msg("m1", 100)})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if appended != 1 || total != 1 {
		t.Fatalf("append must succeed without config: %d/%d", appended, total)
	}
	h, err := b.ReadHistory("ghost", "topic1", 0)
	if err != nil || len(h.Messages) != 1 {
		t.Fatalf("history missing: %v %+v", err, h)
	}
}
