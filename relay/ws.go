// Copyright 2025 La Crypta

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lawalletio/pos-lite/event"
)

// seenCacheSize bounds the duplicate-suppression cache. Suppression here is
// best effort; accounting idempotency lives with the consumer.
const seenCacheSize = 4096

const subscriptionBuffer = 64

// ErrNotConnected indicates Publish or Subscribe was called before Connect.
var ErrNotConnected = errors.New("relay client is not connected")

// ErrRejected indicates the relay refused a published record.
var ErrRejected = errors.New("relay rejected the record")

// WSClient speaks the relay wire protocol over a websocket: ["REQ", id,
// filter], ["CLOSE", id] and ["EVENT", ev] requests; ["EVENT", id, ev],
// ["EOSE", id], ["OK", id, accepted, msg] and ["NOTICE", msg] responses.
type WSClient struct {
	url string
	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*wsSub
	pending map[string]chan publishAck

	// writeMu serializes frames; the websocket allows one writer at a time.
	writeMu sync.Mutex

	seen *lru.Cache[string, struct{}]

	closed    chan struct{}
	closeOnce sync.Once
}

type wsSub struct {
	sub      *Subscription
	filter   Filter
	lastSeen int64
}

type publishAck struct {
	accepted bool
	message  string
}

var _ Client = (*WSClient)(nil)

// NewWSClient builds a client for the relay at url (ws:// or wss://).
func NewWSClient(url string) *WSClient {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &WSClient{
		url:     url,
		log:     slog.Default().With("relay", url),
		subs:    map[string]*wsSub{},
		pending: map[string]chan publishAck{},
		seen:    seen,
		closed:  make(chan struct{}),
	}
}

// Connect dials the relay and starts the read loop. The connection stays up
// for the life of the client: read failures trigger reconnection with
// exponential backoff, and active subscriptions are replayed on the new
// connection with their since-cursor advanced.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", c.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Publish broadcasts the record and waits for the relay's acknowledgement,
// the context's deadline, or client close, whichever comes first.
func (c *WSClient) Publish(ctx context.Context, ev *event.Event) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ack := make(chan publishAck, 1)
	c.pending[ev.ID] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.write("EVENT", ev); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.ID, err)
	}

	select {
	case a := <-ack:
		if !a.accepted {
			return fmt.Errorf("%w: %s", ErrRejected, a.message)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

// Subscribe opens a live filtered query on the shared connection.
func (c *WSClient) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	sub := NewSubscription(id, subscriptionBuffer, func() { c.dropSubscription(id) })
	c.subs[id] = &wsSub{sub: sub, filter: f}
	c.mu.Unlock()

	if err := c.write("REQ", id, f); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Close tears down the connection and ends every subscription. Pending
// publishes fail with ErrClosed.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		subs := make([]*wsSub, 0, len(c.subs))
		for _, ws := range c.subs {
			subs = append(subs, ws)
		}
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		for _, ws := range subs {
			ws.sub.Unsubscribe()
		}
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// dropSubscription tells the relay to stop a query and forgets it locally.
func (c *WSClient) dropSubscription(id string) {
	c.mu.Lock()
	_, known := c.subs[id]
	delete(c.subs, id)
	connected := c.conn != nil
	c.mu.Unlock()

	if known && connected {
		if err := c.write("CLOSE", id); err != nil {
			c.log.Debug("failed to close subscription", "sub", id, "error", err)
		}
	}
}

func (c *WSClient) write(frame ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn("relay connection lost", "error", err)
				c.reconnect()
			}
			return
		}
		c.handleFrame(msg)
	}
}

// reconnect redials until it succeeds or the client closes, then replays
// the active subscriptions. Overlap with already-delivered records is fine:
// the seen cache suppresses most of it and consumers are idempotent.
func (c *WSClient) reconnect() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-c.closed:
			return
		case <-time.After(bo.NextBackOff()):
		}

		conn, resp, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("relay redial failed", "error", err)
			continue
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		c.mu.Lock()
		c.conn = conn
		resubs := make(map[string]Filter, len(c.subs))
		for id, ws := range c.subs {
			f := ws.filter
			if ws.lastSeen > f.Since {
				f.Since = ws.lastSeen
			}
			resubs[id] = f
		}
		c.mu.Unlock()

		c.log.Info("relay reconnected", "subscriptions", len(resubs))
		for id, f := range resubs {
			if err := c.write("REQ", id, f); err != nil {
				c.log.Warn("failed to replay subscription", "sub", id, "error", err)
			}
		}

		go c.readLoop(conn)
		return
	}
}

func (c *WSClient) handleFrame(msg []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		c.log.Debug("ignoring unparseable relay frame")
		return
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		var ev event.Event
		if json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &ev) != nil {
			return
		}
		c.dispatch(subID, &ev)

	case "EOSE":
		var subID string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		c.mu.Lock()
		ws := c.subs[subID]
		c.mu.Unlock()
		if ws != nil {
			ws.sub.EndOfStoredEvents()
		}

	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		message := ""
		if json.Unmarshal(frame[1], &id) != nil || json.Unmarshal(frame[2], &accepted) != nil {
			return
		}
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &message)
		}
		c.mu.Lock()
		ack := c.pending[id]
		c.mu.Unlock()
		if ack != nil {
			// A relay repeating an OK must not wedge the read loop; the
			// first acknowledgement is the one Publish consumes.
			select {
			case ack <- publishAck{accepted: accepted, message: message}:
			default:
			}
		}

	case "NOTICE":
		var notice string
		_ = json.Unmarshal(frame[1], &notice)
		c.log.Info("relay notice", "notice", notice)

	case "CLOSED":
		var subID string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		c.log.Warn("relay closed subscription", "sub", subID)
		c.mu.Lock()
		ws := c.subs[subID]
		c.mu.Unlock()
		if ws != nil {
			ws.sub.Unsubscribe()
		}
	}
}

func (c *WSClient) dispatch(subID string, ev *event.Event) {
	c.mu.Lock()
	ws := c.subs[subID]
	c.mu.Unlock()
	if ws == nil {
		return
	}

	if _, dup := c.seen.Get(subID + ":" + ev.ID); dup {
		return
	}
	c.seen.Add(subID+":"+ev.ID, struct{}{})

	c.mu.Lock()
	if ev.CreatedAt > ws.lastSeen {
		ws.lastSeen = ev.CreatedAt
	}
	c.mu.Unlock()

	if !ws.sub.Deliver(ev) {
		c.log.Debug("dropped event for ended subscription", "sub", subID, "event", ev.ID)
	}
}
