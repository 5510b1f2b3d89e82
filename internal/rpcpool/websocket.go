package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SubscriptionKind names the JSON-RPC subscription topic, per spec §4.C's
// WebSocket surface.
type SubscriptionKind string

const (
	SubscribeNewHeads           SubscriptionKind = "newHeads"
	SubscribeLogs               SubscriptionKind = "logs"
	SubscribePendingTransactions SubscriptionKind = "newPendingTransactions"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Subscription delivers raw notification payloads for one subscribed topic
// over a reconnecting WebSocket connection.
type Subscription struct {
	Messages chan json.RawMessage
	Errors   chan error

	url    string
	kind   SubscriptionKind
	params []any

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Subscribe opens a subscription to a provider's WebSocket endpoint and
// begins streaming notifications in the background. The connection
// reconnects with exponential backoff (1s, doubling, capped at 60s, reset
// on every successful (re)subscription) so a transient provider outage
// does not require caller intervention.
func Subscribe(ctx context.Context, url string, kind SubscriptionKind, params ...any) *Subscription {
	s := &Subscription{
		Messages: make(chan json.RawMessage, 256),
		Errors:   make(chan error, 16),
		url:      url,
		kind:     kind,
		params:   params,
	}
	go s.run(ctx)
	return s
}

func (s *Subscription) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil || s.isClosed() {
			return
		}

		subscribed, err := s.connectAndStream(ctx)
		if err != nil {
			select {
			case s.Errors <- err:
			default:
			}
		}
		if subscribed {
			backoff = initialBackoff
		}

		if s.isClosed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectAndStream dials, subscribes, and streams notifications until the
// connection drops. The returned bool reports whether the eth_subscribe
// request was written (no acknowledgement is awaited), so the caller knows
// to reset its reconnect backoff even if the stream later errors.
func (s *Subscription) connectAndStream(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("rpcpool: websocket dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	subReq := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  append([]any{string(s.kind)}, s.params...),
	}
	if err := conn.WriteJSON(subReq); err != nil {
		return false, fmt.Errorf("rpcpool: subscribe %s: %w", s.kind, err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("rpcpool: websocket read %s: %w", s.kind, err)
		}

		var envelope struct {
			Params struct {
				Result json.RawMessage `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.Params.Result == nil {
			continue
		}

		select {
		case s.Messages <- envelope.Params.Result:
		case <-ctx.Done():
			return true, nil
		default:
			// drop the notification rather than block the reader loop when
			// the consumer falls behind.
		}
	}
}

// Close tears down the subscription and its background goroutine.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
