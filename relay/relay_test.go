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

package relay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/relay"
)

func TestFilterMatch(t *testing.T) {
	ev := &event.Event{
		ID:        "id1",
		PubKey:    "author1",
		Kind:      event.KindPaymentReceipt,
		CreatedAt: 1700000000,
		Tags:      [][]string{{"e", "order1"}},
	}

	cases := []struct {
		name   string
		filter relay.Filter
		want   bool
	}{
		{name: "empty matches all", filter: relay.Filter{}, want: true},
		{name: "kind match", filter: relay.Filter{Kinds: []int{event.KindPaymentReceipt}}, want: true},
		{name: "kind mismatch", filter: relay.Filter{Kinds: []int{event.KindOrder}}, want: false},
		{name: "author match", filter: relay.Filter{Authors: []string{"author1"}}, want: true},
		{name: "author mismatch", filter: relay.Filter{Authors: []string{"other"}}, want: false},
		{name: "id match", filter: relay.Filter{IDs: []string{"id1"}}, want: true},
		{name: "order link match", filter: relay.Filter{TagE: []string{"order1"}}, want: true},
		{name: "order link mismatch", filter: relay.Filter{TagE: []string{"order2"}}, want: false},
		{name: "since before", filter: relay.Filter{Since: 1600000000}, want: true},
		{name: "since after", filter: relay.Filter{Since: 1800000000}, want: false},
		{
			name: "combined",
			filter: relay.Filter{
				Kinds:   []int{event.KindPaymentReceipt},
				Authors: []string{"author1"},
				TagE:    []string{"order1"},
				Since:   1600000000,
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.filter.Match(ev))
		})
	}

	require.False(t, relay.Filter{}.Match(nil))
}

func TestSubscriptionDeliver(t *testing.T) {
	cancelled := 0
	sub := relay.NewSubscription("s1", 2, func() { cancelled++ })

	ev := &event.Event{ID: "id1"}
	require.True(t, sub.Deliver(ev))
	require.Same(t, ev, <-sub.Events())

	sub.EndOfStoredEvents()
	sub.EndOfStoredEvents() // idempotent
	<-sub.EOSE()

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent, safe during teardown
	require.Equal(t, 1, cancelled)
	require.False(t, sub.Deliver(ev))
	<-sub.Done()
}

func TestSubscriptionUnsubscribeUnblocksDeliver(t *testing.T) {
	sub := relay.NewSubscription("s1", 0, nil)

	delivered := make(chan bool)
	go func() {
		delivered <- sub.Deliver(&event.Event{ID: "id1"})
	}()

	sub.Unsubscribe()
	require.False(t, <-delivered)
}
