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

// Package inmem is an in-process broadcast network. It lets the checkout
// flow run end to end without a relay: published records are stored,
// fanned out to matching subscriptions, and replayed as backlog to late
// subscribers. Tests and the demo mode use it in place of a live relay.
package inmem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/relay"
)

// Relay is an in-memory relay.Client. The zero value is not usable; call
// New.
type Relay struct {
	mu     sync.Mutex
	events []*event.Event
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	sub    *relay.Subscription
	filter relay.Filter
}

var _ relay.Client = (*Relay)(nil)

func New() *Relay {
	return &Relay{subs: map[string]*subscription{}}
}

// Connect is a no-op; the network is the process.
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return relay.ErrClosed
	}
	return nil
}

// Publish stores the record and fans it out to every matching live
// subscription. Records are delivered at least once by design: a consumer
// subscribing after Publish still receives the record as backlog.
func (r *Relay) Publish(ctx context.Context, ev *event.Event) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return relay.ErrClosed
	}
	r.events = append(r.events, ev)
	targets := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		s.sub.Deliver(ev)
	}
	return nil
}

// Subscribe replays the stored backlog matching f, signals end of stored
// events, then delivers live records.
func (r *Relay) Subscribe(ctx context.Context, f relay.Filter) (*relay.Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, relay.ErrClosed
	}

	backlog := make([]*event.Event, 0)
	for _, ev := range r.events {
		if f.Match(ev) {
			backlog = append(backlog, ev)
		}
	}

	id := uuid.NewString()
	sub := relay.NewSubscription(id, len(backlog)+64, func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	})
	r.subs[id] = &subscription{sub: sub, filter: f}
	r.mu.Unlock()

	// Backlog fits the buffer, so this never blocks.
	for _, ev := range backlog {
		sub.Deliver(ev)
	}
	sub.EndOfStoredEvents()

	return sub, nil
}

// Close ends every subscription.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.sub.Unsubscribe()
	}
	return nil
}

// Events returns a copy of everything published so far.
func (r *Relay) Events() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*event.Event, len(r.events))
	copy(out, r.events)
	return out
}
