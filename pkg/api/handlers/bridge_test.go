package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gorilla/mux"

	"chatsyncd/pkg/bridge"
	"chatsyncd/pkg/models"
)

func newBridgeRouter(t *testing.T) (*mux.Router, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "AppData", "Agents", "agent1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := `{"name":"Nova","topics":[]}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	r := mux.NewRouter()
	RegisterBridge(r, bridge.New(root))
	return r, root
}

// TestBridgeAppendAndRead walks a message batch through the append endpoint
// and reads it back, including the not-modified short circuit.
func TestBridgeAppendAndRead(t *testing.T) {
	r, _ := newBridgeRouter(t)

	body := map[string]interface{}{
		"agentDirId": "agent1",
		"topicId":    "topic1",
		"topicName":  "From mobile",
		"messages": []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hi", Timestamp: 100},
		},
	}
	rec, out := doJSON(t, r, http.MethodPost, "/vcpchat-append-history", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("append: %d %s", rec.Code, rec.Body.String())
	}
	if string(out["appended"]) != "1" || string(out["total"]) != "1" {
		t.Fatalf("append counters: %s", rec.Body.String())
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/vcpchat-history?agentDirId=agent1&topicId=topic1", nil)
	var got struct {
		Success      bool             `json:"success"`
		Messages     []models.Message `json:"messages"`
		LastModified int64            `json:"lastModified"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || len(got.Messages) != 1 || got.LastModified == 0 {
		t.Fatalf("read: %s", rec.Body.String())
	}

	// reading again at the returned watermark short-circuits
	rec, out = doJSON(t, r, http.MethodGet,
		"/vcpchat-history?agentDirId=agent1&topicId=topic1&ifModifiedSince="+strconv.FormatInt(got.LastModified, 10), nil)
	if string(out["notModified"]) != "true" {
		t.Fatalf("expected notModified: %s", rec.Body.String())
	}
	if _, ok := out["messages"]; ok {
		t.Fatalf("not-modified response must skip the payload: %s", rec.Body.String())
	}
}

// TestBridgeAppendValidation covers the legacy error strings for the append
// endpoint.
func TestBridgeAppendValidation(t *testing.T) {
	r, _ := newBridgeRouter(t)

	rec, out := doJSON(t, r, http.MethodPost, "/vcpchat-append-history", map[string]interface{}{
		"topicId": "t", "messages": []models.Message{},
	})
	if rec.Code != http.StatusBadRequest || errField(t, out) != "agentDirId and topicId are required." {
		t.Fatalf("missing agentDirId: %d %s", rec.Code, rec.Body.String())
	}

	rec, out = doJSON(t, r, http.MethodPost, "/vcpchat-append-history", map[string]interface{}{
		"agentDirId": "agent1", "topicId": "t",
	})
	if rec.Code != http.StatusBadRequest || errField(t, out) != "messages must be a non-empty array." {
		t.Fatalf("missing messages: %d %s", rec.Code, rec.Body.String())
	}

	// an empty array is rejected the same way as a missing one
	rec, out = doJSON(t, r, http.MethodPost, "/vcpchat-append-history", map[string]interface{}{
		"agentDirId": "agent1", "topicId": "t", "messages": []models.Message{},
	})
	if rec.Code != http.StatusBadRequest || errField(t, out) != "messages must be a non-empty array." {
		t.Fatalf("empty array: %d %s", rec.Code, rec.Body.String())
	}
}

// TestBridgeReadValidation verifies the query parameter requirement.
func TestBridgeReadValidation(t *testing.T) {
	r, _ := newBridgeRouter(t)
	rec, out := doJSON(t, r, http.MethodGet, "/vcpchat-history?agentDirId=agent1", nil)
	if rec.Code != http.StatusBadRequest || errField(t, out) != "agentDirId and topicId are required." {
		t.Fatalf("missing topicId: %d %s", rec.Code, rec.Body.String())
	}
}

// TestBridgeDeleteTopic verifies the delete endpoint removes the topic and
// reports success even when repeated.
func TestBridgeDeleteTopic(t *testing.T) {
	r, root := newBridgeRouter(t)

	seed := map[string]interface{}{
		"agentDirId": "agent1", "topicId": "doomed",
		"messages": []models.Message{{ID: "m1", Timestamp: 1}},
	}
	if rec, _ := doJSON(t, r, http.MethodPost, "/vcpchat-append-history", seed); rec.Code != http.StatusOK {
		t.Fatalf("seed append: %d", rec.Code)
	}

	del := map[string]string{"agentDirId": "agent1", "topicId": "doomed"}
	rec, _ := doJSON(t, r, http.MethodPost, "/vcpchat-delete-topic", del)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	topicDir := filepath.Join(root, "AppData", "UserData", "agent1", "topics", "doomed")
	if _, err := os.Stat(topicDir); !os.IsNotExist(err) {
		t.Fatalf("topic dir must be gone: %v", err)
	}
	if rec, _ := doJSON(t, r, http.MethodPost, "/vcpchat-delete-topic", del); rec.Code != http.StatusOK {
		t.Fatalf("repeat delete: %d", rec.Code)
	}
}

// TestBridgeListAgents verifies the mobile listing shape.
func TestBridgeListAgents(t *testing.T) {
	r, _ := newBridgeRouter(t)
	rec, _ := doJSON(t, r, http.MethodGet, "/mobile-list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mobile-list: %d", rec.Code)
	}
	var got struct {
		Success bool               `json:"success"`
		Agents  []bridge.AgentInfo `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || len(got.Agents) != 1 || got.Agents[0].Name != "Nova" || got.Agents[0].AgentDirID != "agent1" {
		t.Fatalf("agents: %s", rec.Body.String())
	}
}
