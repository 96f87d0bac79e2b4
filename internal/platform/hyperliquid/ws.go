package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perptools/journal/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between inbound messages. The server
	// answers protocol pings, so a healthy connection never goes quiet
	// longer than the ping period.
	readWait = 60 * time.Second

	// pingPeriod sends protocol pings at this interval. Must be less than
	// readWait.
	pingPeriod = (readWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// FillsHandler is called with each batch of normalized fills from the
// userFills stream. snapshot is true for the replay batch sent on subscribe.
type FillsHandler func(fills []domain.Fill, snapshot bool)

// WSClient streams the wallet's live fills over the venue's WebSocket feed.
// It manages the connection lifecycle, resubscribes after reconnects, and
// dispatches normalized fills to registered handlers.
type WSClient struct {
	wsURL     string
	user      string
	accountID string
	conn      *websocket.Conn

	mu     sync.RWMutex
	closed bool

	fillsHandlers []FillsHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new fills stream client.
//
// wsURL is the feed endpoint, e.g. "wss://api.hyperliquid.xyz/ws"; wallet is
// normalized the same way the REST client normalizes it.
func NewWSClient(wsURL, wallet, accountID string) *WSClient {
	return &WSClient{
		wsURL:     wsURL,
		user:      checksumAddress(wallet),
		accountID: accountID,
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and subscribes to the
// wallet's userFills stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	if err := w.sendJSON(map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "userFills",
			"user": w.user,
		},
	}); err != nil {
		return fmt.Errorf("hyperliquid/ws: subscribe: %w", err)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnFills registers a handler that is called for every batch of fills
// received on the userFills stream.
func (w *WSClient) OnFills(handler FillsHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.fillsHandlers = append(w.fillsHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendJSON writes a JSON message to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendJSON(msg map[string]any) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the registered handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop sends periodic protocol pings. The server expects JSON pings
// rather than WebSocket control frames.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.conn == nil {
				w.mu.Unlock()
				return
			}
			err := w.sendJSON(map[string]any{"method": "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw feed message and routes userFills payloads to
// the handlers. Subscription acks and pongs are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}
	if envelope.Channel != "userFills" {
		return
	}

	var data struct {
		IsSnapshot bool  `json:"isSnapshot"`
		Fills      []any `json:"fills"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return
	}

	records := make([]map[string]any, 0, len(data.Fills))
	for _, item := range data.Fills {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	fills, _ := NormalizeFills(records, w.accountID)
	if len(fills) == 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.fillsHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(fills, data.IsSnapshot)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
