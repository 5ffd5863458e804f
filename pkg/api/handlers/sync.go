package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/models"
	"chatsyncd/pkg/store"
	"chatsyncd/pkg/telemetry"
	"chatsyncd/pkg/utils"
)

type syncRoutes struct {
	store   *store.Store
	version string
}

// RegisterSync registers the sync protocol routes on the provided router,
// which is expected to be mounted under /chat-sync.
func RegisterSync(r *mux.Router, st *store.Store, version string) {
	h := &syncRoutes{store: st, version: version}

	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/agents", h.listAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/{agentId}/topics", h.getTopics).Methods(http.MethodGet)
	r.HandleFunc("/agents/{agentId}/topics", h.putTopics).Methods(http.MethodPut)
	r.HandleFunc("/history/{agentId}/{topicId}", h.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/history/{agentId}/{topicId}", h.putHistory).Methods(http.MethodPut)
	r.HandleFunc("/history/{agentId}/{topicId}", h.deleteTopic).Methods(http.MethodDelete)
	r.HandleFunc("/sync", h.sync).Methods(http.MethodPost)
	r.HandleFunc("/batch-sync", h.batchSync).Methods(http.MethodPost)
}

// writeStoreError maps store failures onto the JSON error envelope.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrBadKey) {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.JSONError(w, http.StatusInternalServerError, err.Error())
}

func (h *syncRoutes) status(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, 0, map[string]interface{}{
		"success":   true,
		"service":   "chat-sync",
		"version":   h.version,
		"timestamp": utils.NowMillis(),
	})
}

func (h *syncRoutes) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "agents": agents})
}

func (h *syncRoutes) getTopics(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	topics, err := h.store.Topics(agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "topics": topics})
}

func (h *syncRoutes) putTopics(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]
	var incoming []models.Topic
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "Request body must be an array of topics.")
		return
	}
	merged, err := h.store.MergeTopics(agentID, incoming)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "count": len(merged)})
}

func (h *syncRoutes) getHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msgs, err := h.store.Read(vars["agentId"], vars["topicId"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	total := len(msgs)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			filtered := make([]models.Message, 0, len(msgs))
			for _, m := range msgs {
				if m.Timestamp > since {
					filtered = append(filtered, m)
				}
			}
			msgs = filtered
		}
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "messages": msgs, "total": total})
}

func (h *syncRoutes) putHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var msgs []models.Message
	if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "Request body must be an array of messages.")
		return
	}
	if err := h.store.Overwrite(vars["agentId"], vars["topicId"], msgs); err != nil {
		writeStoreError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "count": len(msgs)})
}

func (h *syncRoutes) deleteTopic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteTopic(vars["agentId"], vars["topicId"]); err != nil {
		writeStoreError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true})
}

// syncResponse is written without omitempty so an empty exchange still
// carries every field the clients read.
type syncResponse struct {
	Success           bool             `json:"success"`
	ServerNewMessages []models.Message `json:"serverNewMessages"`
	MergedCount       int              `json:"mergedCount"`
	NewFromClient     int              `json:"newFromClient"`
	LastSyncTimestamp int64            `json:"lastSyncTimestamp"`
}

func (h *syncRoutes) sync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentID == "" || req.TopicID == "" {
		utils.JSONError(w, http.StatusBadRequest, "agentId and topicId are required.")
		return
	}
	out, err := h.store.Sync(req.AgentID, req.TopicID, req.ClientMessages, req.LastSyncTimestamp)
	telemetry.ObserveSync(err == nil, out.NewFromClient)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	logger.Info("sync_done", "agent", req.AgentID, "topic", req.TopicID,
		"from_client", out.NewFromClient, "server_new", len(out.ServerNew))
	_ = utils.JSONWrite(w, 0, syncResponse{
		Success:           true,
		ServerNewMessages: out.ServerNew,
		MergedCount:       out.MergedCount,
		NewFromClient:     out.NewFromClient,
		LastSyncTimestamp: out.NewSyncTimestamp,
	})
}

func (h *syncRoutes) batchSync(w http.ResponseWriter, r *http.Request) {
	var req models.BatchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Syncs == nil {
		utils.JSONError(w, http.StatusBadRequest, "syncs must be an array.")
		return
	}

	// every request is processed in isolation: one bad request yields one
	// failed result, never an aborted batch
	results := make([]models.SyncResult, 0, len(req.Syncs))
	for _, sr := range req.Syncs {
		results = append(results, h.syncOne(sr))
	}
	_ = utils.JSONWrite(w, 0, models.BatchSyncResponse{Success: true, Results: results})
}

func (h *syncRoutes) syncOne(req models.SyncRequest) models.SyncResult {
	if req.AgentID == "" || req.TopicID == "" {
		return models.SyncResult{
			AgentID: req.AgentID,
			TopicID: req.TopicID,
			Error:   "agentId and topicId are required.",
		}
	}
	out, err := h.store.Sync(req.AgentID, req.TopicID, req.ClientMessages, req.LastSyncTimestamp)
	telemetry.ObserveSync(err == nil, out.NewFromClient)
	if err != nil {
		logger.Warn("batch_sync_item_failed", "agent", req.AgentID, "topic", req.TopicID, "error", err)
		return models.SyncResult{AgentID: req.AgentID, TopicID: req.TopicID, Error: err.Error()}
	}
	return models.SyncResult{
		AgentID:           req.AgentID,
		TopicID:           req.TopicID,
		Success:           true,
		ServerNewMessages: out.ServerNew,
		MergedCount:       out.MergedCount,
		NewFromClient:     out.NewFromClient,
		LastSyncTimestamp: out.NewSyncTimestamp,
	}
}
