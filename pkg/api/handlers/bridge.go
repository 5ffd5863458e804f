package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatsyncd/pkg/bridge"
	"chatsyncd/pkg/models"
	"chatsyncd/pkg/telemetry"
	"chatsyncd/pkg/utils"
)

type bridgeRoutes struct {
	bridge *bridge.Bridge
}

// RegisterBridge registers the desktop bridge routes on the provided router,
// which is expected to be mounted under /agents. The route names are part of
// the legacy wire contract and must not change.
func RegisterBridge(r *mux.Router, b *bridge.Bridge) {
	h := &bridgeRoutes{bridge: b}

	r.HandleFunc("/vcpchat-history", h.readHistory).Methods(http.MethodGet)
	r.HandleFunc("/vcpchat-append-history", h.appendHistory).Methods(http.MethodPost)
	r.HandleFunc("/vcpchat-delete-topic", h.deleteTopic).Methods(http.MethodPost)
	r.HandleFunc("/mobile-list", h.listAgents).Methods(http.MethodGet)
}

func writeBridgeError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrBadKey) {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.JSONError(w, http.StatusInternalServerError, err.Error())
}

func (h *bridgeRoutes) readHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentDirID := q.Get("agentDirId")
	topicID := q.Get("topicId")
	if agentDirID == "" || topicID == "" {
		utils.JSONError(w, http.StatusBadRequest, "agentDirId and topicId are required.")
		return
	}
	var ims int64
	if v := q.Get("ifModifiedSince"); v != "" {
		ims, _ = strconv.ParseInt(v, 10, 64)
	}

	hist, err := h.bridge.ReadHistory(agentDirID, topicID, ims)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	if hist.NotModified {
		_ = utils.JSONWrite(w, 0, map[string]interface{}{
			"success":      true,
			"notModified":  true,
			"lastModified": hist.LastModified,
		})
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{
		"success":      true,
		"messages":     hist.Messages,
		"lastModified": hist.LastModified,
	})
}

func (h *bridgeRoutes) appendHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentDirID string           `json:"agentDirId"`
		TopicID    string           `json:"topicId"`
		TopicName  string           `json:"topicName"`
		Messages   []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentDirID == "" || req.TopicID == "" {
		utils.JSONError(w, http.StatusBadRequest, "agentDirId and topicId are required.")
		return
	}
	if len(req.Messages) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "messages must be a non-empty array.")
		return
	}

	appended, total, err := h.bridge.AppendHistory(req.AgentDirID, req.TopicID, req.TopicName, req.Messages)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	telemetry.ObserveBridgeAppend(appended)
	_ = utils.JSONWrite(w, 0, map[string]interface{}{
		"success":  true,
		"appended": appended,
		"total":    total,
	})
}

func (h *bridgeRoutes) deleteTopic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentDirID string `json:"agentDirId"`
		TopicID    string `json:"topicId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AgentDirID == "" || req.TopicID == "" {
		utils.JSONError(w, http.StatusBadRequest, "agentDirId and topicId are required.")
		return
	}
	if err := h.bridge.DeleteTopic(req.AgentDirID, req.TopicID); err != nil {
		writeBridgeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true})
}

func (h *bridgeRoutes) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.bridge.ListAgents()
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]interface{}{"success": true, "agents": agents})
}
