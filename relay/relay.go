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

// Package relay is the broadcast-network boundary. A Client owns one
// long-lived connection shared by every open order in the process; each
// order holds its own filtered subscription over it, independently
// cancelable. The network gives no guarantees: records arrive unordered,
// duplicated or late, and consumers must account for that themselves.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/lawalletio/pos-lite/event"
)

// ErrClosed indicates an operation on a closed client or subscription.
var ErrClosed = errors.New("relay client is closed")

// Client is a connection to the broadcast network.
type Client interface {
	// Connect opens the connection. It must be called before Publish or
	// Subscribe.
	Connect(ctx context.Context) error
	// Publish broadcasts a record and waits for the network to
	// acknowledge it.
	Publish(ctx context.Context, ev *event.Event) error
	// Subscribe opens a live filtered query. Stored matching records are
	// delivered first, then the end-of-stored-events signal, then live
	// records as they arrive.
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
	// Close tears down the connection and every subscription on it.
	Close() error
}

// Filter selects records on the network. Empty fields match everything.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	// TagE matches records that reference one of these event ids.
	TagE  []string `json:"#e,omitempty"`
	Since int64    `json:"since,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Match reports whether the filter selects the given record.
func (f Filter) Match(ev *event.Event) bool {
	if ev == nil {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.TagE) > 0 && !contains(f.TagE, ev.Tag("e")) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Subscription is one live filtered view over the connection.
type Subscription struct {
	// ID names the subscription on the wire.
	ID string

	events chan *event.Event
	eose   chan struct{}
	done   chan struct{}

	eoseOnce   sync.Once
	cancelOnce sync.Once
	cancel     func()
}

// NewSubscription builds a subscription handle. Implementations of Client
// feed it via Deliver and EndOfStoredEvents; cancel runs exactly once when
// the subscription ends.
func NewSubscription(id string, buffer int, cancel func()) *Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &Subscription{
		ID:     id,
		events: make(chan *event.Event, buffer),
		eose:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events yields matching records as they arrive.
func (s *Subscription) Events() <-chan *event.Event {
	return s.events
}

// EOSE is closed once the network has flushed its stored backlog; whatever
// follows is live.
func (s *Subscription) EOSE() <-chan struct{} {
	return s.eose
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Deliver hands a record to the consumer. It blocks while the consumer's
// buffer is full and reports false once the subscription has ended;
// delivery stops then, accounting already done is unaffected.
func (s *Subscription) Deliver(ev *event.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// EndOfStoredEvents signals that the backlog is flushed. Idempotent.
func (s *Subscription) EndOfStoredEvents() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

// Unsubscribe releases the live query. Safe to call at any time, any number
// of times, whether or not anything was ever delivered.
func (s *Subscription) Unsubscribe() {
	s.cancelOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}
