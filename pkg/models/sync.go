package models

// SyncRequest is one topic's incremental sync request: the caller's locally
// new messages plus the cursor they were selected against.
type SyncRequest struct {
	AgentID           string    `json:"agentId"`
	TopicID           string    `json:"topicId"`
	ClientMessages    []Message `json:"clientMessages"`
	LastSyncTimestamp int64     `json:"lastSyncTimestamp"`
}

// SyncResult mirrors the sync response envelope. In batch responses the
// agent/topic ids are echoed so callers can correlate results by position or
// by key.
type SyncResult struct {
	AgentID           string    `json:"agentId,omitempty"`
	TopicID           string    `json:"topicId,omitempty"`
	Success           bool      `json:"success"`
	ServerNewMessages []Message `json:"serverNewMessages,omitempty"`
	MergedCount       int       `json:"mergedCount,omitempty"`
	NewFromClient     int       `json:"newFromClient,omitempty"`
	LastSyncTimestamp int64     `json:"lastSyncTimestamp,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// BatchSyncRequest wraps multiple per-topic sync requests into one call.
type BatchSyncRequest struct {
	Syncs []SyncRequest `json:"syncs"`
}

// BatchSyncResponse carries one result per request, in request order.
type BatchSyncResponse struct {
	Success bool         `json:"success"`
	Results []SyncResult `json:"results"`
}
