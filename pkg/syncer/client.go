// Package syncer is the client side of the sync protocol: an HTTP client
// for the remote store and a coordinator that drives per-topic round trips
// against a local cache and cursor store.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsyncd/pkg/bridge"
	"chatsyncd/pkg/models"
)

// errBodyLimit caps how much of an error response is carried in a
// NetworkError for diagnostics.
const errBodyLimit = 512

// NormalizeBaseURL canonicalizes a user-supplied server address: a bare
// host:port gains an http scheme and a trailing slash is trimmed.
func NormalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ConfigError{Field: "base_url", Reason: "empty"}
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "http://" + s
	}
	s = strings.TrimRight(s, "/")
	if _, err := url.Parse(s); err != nil {
		return "", &ConfigError{Field: "base_url", Reason: err.Error()}
	}
	return s, nil
}

// Client talks to a remote sync server. Credentials are sent as basic auth
// on every request; an empty username omits the header.
type Client struct {
	baseURL  string
	username string
	password string
	hc       *http.Client
}

// NewClient builds a Client for the given (already normalized) base URL.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &ProtocolError{Op: op, Reason: "encode request", Err: err}
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &NetworkError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Op: op, Reason: "malformed response body", Err: err}
	}
	return nil
}

// envelope is the common success/error wrapper every server response uses.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e envelope) check(op string) error {
	if e.Success {
		return nil
	}
	reason := e.Error
	if reason == "" {
		reason = "server reported failure"
	}
	return &ProtocolError{Op: op, Reason: reason}
}

// StatusInfo is the remote's health/identity report.
type StatusInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// Status fetches the remote service descriptor.
func (c *Client) Status(ctx context.Context) (StatusInfo, error) {
	var resp struct {
		envelope
		StatusInfo
	}
	if err := c.do(ctx, "status", http.MethodGet, "/chat-sync/status", nil, &resp); err != nil {
		return StatusInfo{}, err
	}
	return resp.StatusInfo, resp.check("status")
}

// ListAgents returns the agent ids known to the remote store.
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	var resp struct {
		envelope
		Agents []string `json:"agents"`
	}
	if err := c.do(ctx, "list_agents", http.MethodGet, "/chat-sync/agents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, resp.check("list_agents")
}

// GetTopics fetches the remote topic registry for an agent.
func (c *Client) GetTopics(ctx context.Context, agentID string) ([]models.Topic, error) {
	var resp struct {
		envelope
		Topics []models.Topic `json:"topics"`
	}
	path := "/chat-sync/agents/" + url.PathEscape(agentID) + "/topics"
	if err := c.do(ctx, "get_topics", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Topics, resp.check("get_topics")
}

// PutTopics merges topics into the remote registry and returns the merged
// registry size.
func (c *Client) PutTopics(ctx context.Context, agentID string, topics []models.Topic) (int, error) {
	var resp struct {
		envelope
		Count int `json:"count"`
	}
	path := "/chat-sync/agents/" + url.PathEscape(agentID) + "/topics"
	if err := c.do(ctx, "put_topics", http.MethodPut, path, topics, &resp); err != nil {
		return 0, err
	}
	return resp.Count, resp.check("put_topics")
}

// GetHistory fetches a topic's remote log, optionally only messages with a
// timestamp strictly greater than since.
func (c *Client) GetHistory(ctx context.Context, agentID, topicID string, since int64) ([]models.Message, error) {
	var resp struct {
		envelope
		Messages []models.Message `json:"messages"`
		Total    int              `json:"total"`
	}
	path := "/chat-sync/history/" + url.PathEscape(agentID) + "/" + url.PathEscape(topicID)
	if since > 0 {
		path += "?since=" + strconv.FormatInt(since, 10)
	}
	if err := c.do(ctx, "get_history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, resp.check("get_history")
}

// PutHistory replaces a topic's remote log wholesale.
func (c *Client) PutHistory(ctx context.Context, agentID, topicID string, msgs []models.Message) (int, error) {
	var resp struct {
		envelope
		Count int `json:"count"`
	}
	path := "/chat-sync/history/" + url.PathEscape(agentID) + "/" + url.PathEscape(topicID)
	if err := c.do(ctx, "put_history", http.MethodPut, path, msgs, &resp); err != nil {
		return 0, err
	}
	return resp.Count, resp.check("put_history")
}

// DeleteTopic removes a topic's remote log.
func (c *Client) DeleteTopic(ctx context.Context, agentID, topicID string) error {
	var resp envelope
	path := "/chat-sync/history/" + url.PathEscape(agentID) + "/" + url.PathEscape(topicID)
	if err := c.do(ctx, "delete_topic", http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}
	return resp.check("delete_topic")
}

// syncResponse is the wire shape of a single sync exchange.
type syncResponse struct {
	envelope
	ServerNewMessages []models.Message `json:"serverNewMessages"`
	MergedCount       int              `json:"mergedCount"`
	NewFromClient     int              `json:"newFromClient"`
	LastSyncTimestamp int64            `json:"lastSyncTimestamp"`
}

// Sync runs one incremental exchange for a topic.
func (c *Client) Sync(ctx context.Context, req models.SyncRequest) (models.SyncResult, error) {
	var resp syncResponse
	if err := c.do(ctx, "sync", http.MethodPost, "/chat-sync/sync", req, &resp); err != nil {
		return models.SyncResult{}, err
	}
	if err := resp.check("sync"); err != nil {
		return models.SyncResult{}, err
	}
	return models.SyncResult{
		AgentID:           req.AgentID,
		TopicID:           req.TopicID,
		Success:           true,
		ServerNewMessages: resp.ServerNewMessages,
		MergedCount:       resp.MergedCount,
		NewFromClient:     resp.NewFromClient,
		LastSyncTimestamp: resp.LastSyncTimestamp,
	}, nil
}

// BatchSync runs several sync exchanges in one round trip. Per-request
// failures come back inside the results, not as an error here.
func (c *Client) BatchSync(ctx context.Context, reqs []models.SyncRequest) ([]models.SyncResult, error) {
	var resp struct {
		envelope
		Results []models.SyncResult `json:"results"`
	}
	body := models.BatchSyncRequest{Syncs: reqs}
	if err := c.do(ctx, "batch_sync", http.MethodPost, "/chat-sync/batch-sync", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, resp.check("batch_sync")
}

// DesktopHistory is a conditional read of a desktop-side log through the
// bridge endpoints.
type DesktopHistory struct {
	Messages     []models.Message
	LastModified int64
	NotModified  bool
}

// ReadDesktopHistory fetches a desktop-side topic log, short-circuiting when
// ifModifiedSince is at or past the remote file's mtime.
func (c *Client) ReadDesktopHistory(ctx context.Context, agentDirID, topicID string, ifModifiedSince int64) (DesktopHistory, error) {
	var resp struct {
		envelope
		Messages     []models.Message `json:"messages"`
		LastModified int64            `json:"lastModified"`
		NotModified  bool             `json:"notModified"`
	}
	q := url.Values{}
	q.Set("agentDirId", agentDirID)
	q.Set("topicId", topicID)
	if ifModifiedSince > 0 {
		q.Set("ifModifiedSince", strconv.FormatInt(ifModifiedSince, 10))
	}
	if err := c.do(ctx, "read_desktop_history", http.MethodGet, "/agents/vcpchat-history?"+q.Encode(), nil, &resp); err != nil {
		return DesktopHistory{}, err
	}
	if err := resp.check("read_desktop_history"); err != nil {
		return DesktopHistory{}, err
	}
	return DesktopHistory{Messages: resp.Messages, LastModified: resp.LastModified, NotModified: resp.NotModified}, nil
}

// AppendDesktopHistory pushes messages into a desktop-side log.
func (c *Client) AppendDesktopHistory(ctx context.Context, agentDirID, topicID, topicName string, msgs []models.Message) (appended, total int, err error) {
	var resp struct {
		envelope
		Appended int `json:"appended"`
		Total    int `json:"total"`
	}
	body := map[string]interface{}{
		"agentDirId": agentDirID,
		"topicId":    topicID,
		"topicName":  topicName,
		"messages":   msgs,
	}
	if err := c.do(ctx, "append_desktop_history", http.MethodPost, "/agents/vcpchat-append-history", body, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Appended, resp.Total, resp.check("append_desktop_history")
}

// DeleteDesktopTopic removes a desktop-side topic.
func (c *Client) DeleteDesktopTopic(ctx context.Context, agentDirID, topicID string) error {
	var resp envelope
	body := map[string]string{"agentDirId": agentDirID, "topicId": topicID}
	if err := c.do(ctx, "delete_desktop_topic", http.MethodPost, "/agents/vcpchat-delete-topic", body, &resp); err != nil {
		return err
	}
	return resp.check("delete_desktop_topic")
}

// ListDesktopAgents enumerates the desktop agents reachable through the
// bridge.
func (c *Client) ListDesktopAgents(ctx context.Context) ([]bridge.AgentInfo, error) {
	var resp struct {
		envelope
		Agents []bridge.AgentInfo `json:"agents"`
	}
	if err := c.do(ctx, "list_desktop_agents", http.MethodGet, "/agents/mobile-list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, resp.check("list_desktop_agents")
}
