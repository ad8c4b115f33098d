// Package client provides a reusable WebSocket load test client for the
// PoemStars game server. It connects using gobwas/ws (the same library the
// server uses), speaks the proto_id envelope protocol, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server proto IDs.
const (
	IDStartMatch   = 1001
	IDMatchGameOpt = 1002
)

// Server -> Client proto IDs.
const (
	IDMatchReply = 2001
	IDGameStart  = 2002
	IDGameUpdate = 2003
	IDGameEnd    = 2004
)

// StartMatch is the match request record.
type StartMatch struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Level       uint32  `json:"level"`
	EloScore    uint32  `json:"elo_score"`
	CorrectRate float64 `json:"correct_rate"`
}

// MatchGameOpt is one answer record.
type MatchGameOpt struct {
	ID        string `json:"id"`
	GameID    string `json:"game_id"`
	OptIndex  uint32 `json:"opt_index"`
	OptResult uint32 `json:"opt_result"`
}

type envelope struct {
	ProtoID      uint64 `json:"proto_id"`
	ProtoJSONStr string `json:"proto_json_str"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated player connection. It manages the
// WebSocket lifecycle and dispatches incoming records to handlers registered
// by proto ID.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[uint64]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a load test client connected to the given WebSocket URL. The
// connection is established immediately and a background goroutine begins
// reading frames.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[uint64]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send wraps a record in the envelope and writes it as a text frame. It is
// goroutine-safe.
func (c *Client) Send(protoID uint64, record interface{}) error {
	inner, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data, err := json.Marshal(envelope{
		ProtoID:      protoID,
		ProtoJSONStr: base64.StdEncoding.EncodeToString(inner),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server proto ID. The handler receives the
// decoded inner record JSON. Handlers are invoked from the read loop
// goroutine so they should not block. Registering a second handler for the
// same proto ID replaces the first.
func (c *Client) On(protoID uint64, handler func(json.RawMessage)) {
	c.handlers[protoID] = handler
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads frames, unwraps the envelope, and dispatches
// the inner record to the handler registered for its proto ID. It runs until
// the connection is closed.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentionally closed; not an error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		inner, err := base64.StdEncoding.DecodeString(env.ProtoJSONStr)
		if err != nil {
			continue
		}

		if handler, ok := c.handlers[env.ProtoID]; ok {
			handler(json.RawMessage(inner))
		}
	}
}
