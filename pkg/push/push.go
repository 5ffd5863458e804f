// Package push maintains the best-effort delivery channel: a persistent
// websocket that feeds newly-arrived messages into the same merge path as a
// sync response. The channel is advisory; anything missed here is picked up
// by the next sync round trip.
package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/models"
)

const (
	heartbeatInterval = 25 * time.Second
	reconnectBase     = 2 * time.Second
	reconnectMax      = 30 * time.Second
	reconnectFactor   = 1.5
)

// Event is one inbound frame carrying new messages for a topic.
type Event struct {
	Type     string           `json:"type"`
	AgentID  string           `json:"agentId,omitempty"`
	TopicID  string           `json:"topicId,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
}

// Config describes one push session.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL      string
	Username string
	Password string
	// OnEvent receives every non-ack frame. Called from the read loop;
	// handlers must not block for long.
	OnEvent func(Event)
}

// Listener owns one push connection with its reconnect loop. Construct one
// per active session; Close tears the session down for good.
type Listener struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// New returns an unconnected Listener.
func New(cfg Config) *Listener {
	return &Listener{cfg: cfg}
}

// Connect starts the session: dial, read, heartbeat, and reconnect with
// exponential backoff until Close or ctx cancellation.
func (l *Listener) Connect(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx)
}

// Close ends the session and waits for the loop to exit.
func (l *Listener) Close() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := l.session(ctx)
		if connected {
			backoff = reconnectBase
		}
		if err != nil && ctx.Err() == nil {
			logger.Warn("push_disconnected", "url", l.cfg.URL, "error", err, "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * reconnectFactor)
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// session runs one connection to completion: dial, heartbeat, read until
// the connection drops. connected reports whether the dial succeeded, so
// the caller can reset its backoff.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{}
	if l.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(l.cfg.Username + ":" + l.cfg.Password))
		opts.HTTPHeader = http.Header{"Authorization": {"Basic " + cred}}
	}
	conn, _, err := websocket.Dial(ctx, l.cfg.URL, opts)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		conn.Close(websocket.StatusInternalError, "session ended")
	}()
	logger.Info("push_connected", "url", l.cfg.URL)

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go l.heartbeat(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("push_bad_frame", "error", err)
			continue
		}
		switch ev.Type {
		case "connection_ack", "heartbeat_ack":
			// bookkeeping frames, nothing to deliver
		default:
			if l.cfg.OnEvent != nil {
				l.cfg.OnEvent(ev)
			}
		}
	}
}

func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	frame, _ := json.Marshal(Event{Type: "heartbeat"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}
