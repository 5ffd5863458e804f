package syncer

import (
	"context"

	"chatsyncd/pkg/cache"
	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/merge"
	"chatsyncd/pkg/models"
)

// Config holds the coordinator's remote endpoint and identity. It is
// validated once at construction; a coordinator never runs with a partial
// config.
type Config struct {
	BaseURL  string
	Username string
	Password string
	AgentID  string
}

// Validate normalizes BaseURL and rejects missing fields.
func (c *Config) Validate() error {
	u, err := NormalizeBaseURL(c.BaseURL)
	if err != nil {
		return err
	}
	c.BaseURL = u
	if c.AgentID == "" {
		return &ConfigError{Field: "agent_id", Reason: "empty"}
	}
	return nil
}

// Coordinator drives per-topic sync round trips for one agent, holding the
// local cache and cursor store it reconciles against.
type Coordinator struct {
	cfg    Config
	client *Client
	cache  *cache.Cache
}

// New builds a Coordinator. The cache carries both the local message copies
// and the per-topic cursors; losing it only forces a full re-exchange.
func New(cfg Config, lc *cache.Cache) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.Username, cfg.Password),
		cache:  lc,
	}, nil
}

// Client exposes the underlying HTTP client for operations outside the
// sync round trip (status, registry, desktop bridge).
func (co *Coordinator) Client() *Client { return co.client }

// Outcome is the result of one topic's round trip. A failed round trip
// carries Err and leaves the cursor untouched, so a retry resumes from the
// same point.
type Outcome struct {
	Success           bool
	ServerNewMessages []models.Message
	MergedCount       int
	NewFromClient     int
	Err               error
}

// SyncTopic runs one incremental round trip for topicID: upload everything
// local past the cursor, merge the server's new slice into the cache, and
// advance the cursor to the server's returned timestamp. The cursor moves
// even on an empty exchange, since the returned timestamp reflects the
// authoritative merged state.
func (co *Coordinator) SyncTopic(ctx context.Context, topicID string) Outcome {
	fail := func(err error) Outcome {
		logger.Warn("sync_topic_failed", "agent", co.cfg.AgentID, "topic", topicID, "error", err)
		return Outcome{Err: err}
	}

	cursor, err := co.cache.Cursor(co.cfg.AgentID, topicID)
	if err != nil {
		return fail(err)
	}
	local, err := co.cache.Messages(co.cfg.AgentID, topicID)
	if err != nil {
		return fail(err)
	}

	req := models.SyncRequest{
		AgentID:           co.cfg.AgentID,
		TopicID:           topicID,
		ClientMessages:    merge.After(local, cursor),
		LastSyncTimestamp: cursor,
	}
	res, err := co.client.Sync(ctx, req)
	if err != nil {
		return fail(err)
	}

	// cursor first: the remote merge already happened, and re-uploading
	// after a crash here is harmless by merge idempotence
	if err := co.cache.SetCursor(co.cfg.AgentID, topicID, res.LastSyncTimestamp); err != nil {
		return fail(err)
	}
	if _, _, err := co.cache.ApplyServerMessages(co.cfg.AgentID, topicID, res.ServerNewMessages); err != nil {
		return fail(err)
	}

	logger.Info("sync_topic_done", "agent", co.cfg.AgentID, "topic", topicID,
		"server_new", len(res.ServerNewMessages), "from_client", res.NewFromClient, "cursor", res.LastSyncTimestamp)
	return Outcome{
		Success:           true,
		ServerNewMessages: res.ServerNewMessages,
		MergedCount:       res.MergedCount,
		NewFromClient:     res.NewFromClient,
	}
}

// Progress reports one topic's position in a FullSync pass.
type Progress struct {
	TopicID string
	Index   int
	Total   int
	Outcome Outcome
}

// FullSync pushes the local topic catalog into the remote registry, then
// synchronizes each topic strictly sequentially, bounding load on the
// remote store. A registry push failure is logged and the pass continues;
// the next round re-registers. A topic-level failure is reported through
// the callback and does not abort the remaining topics; the first error is
// returned after the pass completes.
func (co *Coordinator) FullSync(ctx context.Context, topics []models.Topic, report func(Progress)) error {
	if len(topics) > 0 {
		if _, err := co.PushTopics(ctx, topics); err != nil {
			logger.Warn("sync_topics_push_failed", "agent", co.cfg.AgentID, "error", err)
		}
	}

	var firstErr error
	for i, t := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := t.Key()
		if id == "" {
			continue
		}
		out := co.SyncTopic(ctx, id)
		if out.Err != nil && firstErr == nil {
			firstErr = out.Err
		}
		if report != nil {
			report(Progress{TopicID: id, Index: i, Total: len(topics), Outcome: out})
		}
	}
	return firstErr
}

// PullHistory replaces the local copy of a topic with the remote log in
// full, used when the cache is known stale or was wiped.
func (co *Coordinator) PullHistory(ctx context.Context, topicID string) ([]models.Message, error) {
	msgs, err := co.client.GetHistory(ctx, co.cfg.AgentID, topicID, 0)
	if err != nil {
		return nil, err
	}
	if err := co.cache.PutMessages(co.cfg.AgentID, topicID, msgs); err != nil {
		return nil, err
	}
	if ts := merge.MaxTimestamp(msgs); ts > 0 {
		if err := co.cache.SetCursor(co.cfg.AgentID, topicID, ts); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// PushTopics merges the local topic catalog into the remote registry.
func (co *Coordinator) PushTopics(ctx context.Context, topics []models.Topic) (int, error) {
	return co.client.PutTopics(ctx, co.cfg.AgentID, topics)
}

// ApplyIncoming feeds messages arriving outside the sync loop (the push
// channel) through the same merge path as a sync response.
func (co *Coordinator) ApplyIncoming(topicID string, msgs []models.Message) (int, error) {
	_, n, err := co.cache.ApplyServerMessages(co.cfg.AgentID, topicID, msgs)
	return n, err
}
