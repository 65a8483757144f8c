// Package ledger subscribes to the contract's transaction logs over the ledger's
// JSON-RPC WebSocket interface.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/retry"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	subscribeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	// readIdleTimeout bounds silence on the socket; pings from the server extend it.
	readIdleTimeout = 60 * time.Second
	pingInterval    = 20 * time.Second
	bufferSize      = 256
)

// Notification is one transaction that mentioned the contract.
type Notification struct {
	// Sequence is the ledger's total order number for the transaction.
	Sequence  uint64
	Signature string
	// Failed is set when the transaction did not execute successfully.
	Failed bool
	Logs   []string
}

// Client owns one logs subscription and keeps it alive across disconnects.
type Client struct {
	url        string
	contractID string
	commitment string
	dialer     *websocket.Dialer
	backoff    retry.Config
	nextID     atomic.Uint64
}

// NewClient creates a client for the given WebSocket endpoint. It does not connect.
func NewClient(url, contractID, commitment string) *Client {
	return &Client{
		url:        url,
		contractID: contractID,
		commitment: commitment,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		backoff: retry.Config{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		},
	}
}

// SetReconnectBackoff overrides the wait between reconnect attempts.
func (c *Client) SetReconnectBackoff(initial, max time.Duration) {
	c.backoff.InitialBackoff = initial
	c.backoff.MaxBackoff = max
}

// Subscribe connects and confirms the subscription before returning. A failure here is
// returned to the caller. Afterwards notifications are delivered on the returned channel
// in arrival order; disconnects are retried in the background and the channel is closed
// once ctx is done.
func (c *Client) Subscribe(ctx context.Context) (<-chan Notification, error) {
	conn, subID, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Notification, bufferSize)
	go c.run(ctx, conn, subID, out)
	return out, nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, uint64, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return nil, 0, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, 0, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	subID, err := c.subscribe(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}

	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	slog.Info("Subscribed to ledger logs",
		"url", c.url,
		"contract_id", c.contractID,
		"commitment", c.commitment,
		"subscription", subID,
	)
	return conn, subID, nil
}

// subscribe sends logsSubscribe and waits for its response.
func (c *Client) subscribe(conn *websocket.Conn) (uint64, error) {
	id := c.nextID.Add(1)
	req := newSubscribeRequest(id, c.contractID, c.commitment)

	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal subscribe request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, fmt.Errorf("failed to send subscribe request: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("failed to read subscribe response: %w", err)
		}
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return 0, fmt.Errorf("invalid subscribe response: %w", err)
		}
		if msg.ID == nil || *msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return 0, fmt.Errorf("logsSubscribe rejected (code %d): %s", msg.Error.Code, msg.Error.Message)
		}
		var subID uint64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return 0, fmt.Errorf("invalid subscription id %s: %w", msg.Result, err)
		}
		return subID, nil
	}
}

// run reads from conn until it fails, then reconnects with capped backoff. It is the only
// goroutine that reads the connection and the only sender on out.
func (c *Client) run(ctx context.Context, conn *websocket.Conn, subID uint64, out chan<- Notification) {
	defer close(out)

	for {
		err := c.readLoop(ctx, conn, subID, out)
		conn.Close()
		if ctx.Err() != nil {
			slog.Info("Ledger subscription stopped")
			return
		}
		slog.Warn("Ledger subscription lost, reconnecting", "error", err)

		conn, subID, err = c.reconnect(ctx)
		if err != nil {
			slog.Info("Ledger subscription stopped")
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, uint64, error) {
	for attempt := 0; ; attempt++ {
		wait := retry.Backoff(c.backoff, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, 0, ctx.Err()
		case <-timer.C:
		}

		conn, subID, err := c.connect(ctx)
		if err == nil {
			return conn, subID, nil
		}
		slog.Warn("Ledger reconnect failed",
			"attempt", attempt+1,
			"error", err,
		)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, subID uint64, out chan<- Notification) error {
	// Unblock ReadMessage on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	go c.pingLoop(conn, stop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("connection closed by server")
			}
			return err
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Ignoring unparsable ledger message", "error", err)
			continue
		}
		if msg.Method != methodLogsNotification || msg.Params == nil {
			continue
		}
		if msg.Params.Subscription != subID {
			slog.Debug("Ignoring notification for foreign subscription", "subscription", msg.Params.Subscription)
			continue
		}

		select {
		case out <- msg.Params.Result.toNotification():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
