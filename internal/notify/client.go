// Package notify subscribes to the vault's notifications service over a
// websocket so the CLI can learn about server-side changes without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/keyfold/keyfold/pkg/utils"
)

const hubPath = "/hub"

// Message is one push notification from the server. Type names the event
// ("sync_cipher_update", "sync_vault", "logout", …); Payload is the raw
// event body.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client maintains the notifications websocket. Connect once; received
// messages are delivered on Messages until the connection ends.
type Client struct {
	logger *zap.Logger
	url    string

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a subscriber for the notifications service at
// notificationsURL (the environment-resolved https URL; the websocket
// scheme is derived from it).
func New(logger *zap.Logger, notificationsURL string) *Client {
	return &Client{
		logger:   logger,
		url:      wsURL(notificationsURL) + hubPath,
		messages: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

// wsURL rewrites an http(s) service URL to its websocket scheme.
func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Connect dials the hub with the given bearer token and starts the read
// loop.
func (c *Client) Connect(ctx context.Context, bearer string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("notifications dial failed: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("notifications dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("notify.connected", zap.String("url", utils.MaskURL(c.url)))
	go c.readLoop(conn)
	return nil
}

// Messages returns the channel notifications are delivered on. Closed when
// the connection ends.
func (c *Client) Messages() <-chan Message { return c.messages }

// IsConnected reports whether the hub connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears the connection down and closes the message channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.messages)
		c.logger.Info("notify.read_loop_exited")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("notify.read_failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("notify.decode_failed", zap.Error(err))
			continue
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}
