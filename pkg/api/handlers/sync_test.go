package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"chatsyncd/pkg/models"
	"chatsyncd/pkg/store"
)

func newSyncRouter(t *testing.T) *mux.Router {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	r := mux.NewRouter()
	RegisterSync(r, st, "test")
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: response is not JSON: %v\n%s", method, path, err, rec.Body.String())
	}
	return rec, out
}

func errField(t *testing.T, out map[string]json.RawMessage) string {
	t.Helper()
	var s string
	if raw, ok := out["error"]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			t.Fatalf("error field: %v", err)
		}
	}
	return s
}

// TestStatusEndpoint verifies the service descriptor.
func TestStatusEndpoint(t *testing.T) {
	r := newSyncRouter(t)
	rec, out := doJSON(t, r, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	if string(out["service"]) != `"chat-sync"` || string(out["success"]) != "true" {
		t.Fatalf("bad status body: %s", rec.Body.String())
	}
}

// TestSyncRoundTrip verifies a sync round merges client messages and returns
// the post-merge cursor, and that every response field is present even when
// the exchange moved nothing.
func TestSyncRoundTrip(t *testing.T) {
	r := newSyncRouter(t)

	rec, _ := doJSON(t, r, http.MethodPost, "/sync", models.SyncRequest{
		AgentID: "agent1",
		TopicID: "topic1",
		ClientMessages: []models.Message{
			{ID: "m1", Timestamp: 100},
			{ID: "m2", Timestamp: 200},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success           bool             `json:"success"`
		ServerNewMessages []models.Message `json:"serverNewMessages"`
		MergedCount       int              `json:"mergedCount"`
		NewFromClient     int              `json:"newFromClient"`
		LastSyncTimestamp int64            `json:"lastSyncTimestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.NewFromClient != 2 || resp.LastSyncTimestamp != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// the no-op repeat still carries every field
	rec, _ = doJSON(t, r, http.MethodPost, "/sync", models.SyncRequest{
		AgentID: "agent1", TopicID: "topic1", LastSyncTimestamp: 200,
	})
	for _, field := range []string{"serverNewMessages", "mergedCount", "newFromClient", "lastSyncTimestamp"} {
		if !bytes.Contains(rec.Body.Bytes(), []byte(`"`+field+`"`)) {
			t.Fatalf("field %q missing from empty exchange: %s", field, rec.Body.String())
		}
	}
}

// TestSyncValidation verifies the exact legacy error strings.
func TestSyncValidation(t *testing.T) {
	r := newSyncRouter(t)
	rec, out := doJSON(t, r, http.MethodPost, "/sync", models.SyncRequest{TopicID: "only"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", rec.Code)
	}
	if got := errField(t, out); got != "agentId and topicId are required." {
		t.Fatalf("error string %q", got)
	}
}

// TestBatchSyncIsolation runs a batch where only the middle request is
// invalid and verifies the other two still succeed in order.
func TestBatchSyncIsolation(t *testing.T) {
	r := newSyncRouter(t)
	batch := models.BatchSyncRequest{Syncs: []models.SyncRequest{
		{AgentID: "agent1", TopicID: "t1", ClientMessages: []models.Message{{ID: "a", Timestamp: 10}}},
		{AgentID: "agent1", ClientMessages: []models.Message{{ID: "b", Timestamp: 20}}},
		{AgentID: "agent1", TopicID: "t3", ClientMessages: []models.Message{{ID: "c", Timestamp: 30}}},
	}}
	rec, _ := doJSON(t, r, http.MethodPost, "/batch-sync", batch)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch-sync: %d %s", rec.Code, rec.Body.String())
	}
	var resp models.BatchSyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Results) != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !resp.Results[0].Success || !resp.Results[2].Success {
		t.Fatalf("valid requests must succeed: %+v", resp.Results)
	}
	if resp.Results[1].Success || resp.Results[1].Error != "agentId and topicId are required." {
		t.Fatalf("invalid request must fail in place: %+v", resp.Results[1])
	}
	if resp.Results[0].TopicID != "t1" || resp.Results[2].TopicID != "t3" {
		t.Fatalf("results must keep request order: %+v", resp.Results)
	}
}

// TestBatchSyncRequiresArray verifies a body without a syncs array is
// rejected with the legacy error string.
func TestBatchSyncRequiresArray(t *testing.T) {
	r := newSyncRouter(t)
	rec, out := doJSON(t, r, http.MethodPost, "/batch-sync", map[string]string{"not": "it"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", rec.Code)
	}
	if got := errField(t, out); got != "syncs must be an array." {
		t.Fatalf("error string %q", got)
	}
}

// TestHistoryEndpoints covers put, conditional get with ?since, and delete.
func TestHistoryEndpoints(t *testing.T) {
	r := newSyncRouter(t)

	msgs := []models.Message{{ID: "m1", Timestamp: 100}, {ID: "m2", Timestamp: 200}}
	rec, _ := doJSON(t, r, http.MethodPut, "/history/agent1/topic1", msgs)
	if rec.Code != http.StatusOK {
		t.Fatalf("put history: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/history/agent1/topic1?since=100", nil)
	var got struct {
		Messages []models.Message `json:"messages"`
		Total    int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].ID != "m2" {
		t.Fatalf("since filter: %+v", got.Messages)
	}
	// total reflects the whole log, not the filtered slice
	if got.Total != 2 {
		t.Fatalf("total: want 2, got %d", got.Total)
	}

	rec, _ = doJSON(t, r, http.MethodDelete, "/history/agent1/topic1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodGet, "/history/agent1/topic1", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Fatalf("deleted topic must read empty: %+v", got.Messages)
	}
}

// TestTopicsEndpoints covers the registry merge round trip and the body
// validation string.
func TestTopicsEndpoints(t *testing.T) {
	r := newSyncRouter(t)

	rec, _ := doJSON(t, r, http.MethodPut, "/agents/agent1/topics", []models.Topic{{ID: "t1", Name: "one"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("put topics: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/agents/agent1/topics", nil)
	var got struct {
		Topics []models.Topic `json:"topics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Topics) != 1 || got.Topics[0].ID != "t1" {
		t.Fatalf("topics: %+v", got.Topics)
	}

	rec, out := doJSON(t, r, http.MethodPut, "/agents/agent1/topics", map[string]string{"not": "an array"})
	if rec.Code != http.StatusBadRequest || errField(t, out) != "Request body must be an array of topics." {
		t.Fatalf("bad body: %d %s", rec.Code, rec.Body.String())
	}
}

// TestBadKeyMapsTo400 verifies traversal-shaped ids come back as 400, not
// 500.
func TestBadKeyMapsTo400(t *testing.T) {
	r := newSyncRouter(t)
	rec, _ := doJSON(t, r, http.MethodPost, "/sync", models.SyncRequest{AgentID: "..", TopicID: "t"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad key; got %d %s", rec.Code, rec.Body.String())
	}
}
