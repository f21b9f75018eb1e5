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

// Package order models a cart of line items and the broadcast record that
// makes an order publicly verifiable. The order event embeds its
// machine-readable description twice, in the content and in a description
// tag; the tag is the version consumers settle against.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lawalletio/pos-lite/event"
)

// contentPrefix precedes the JSON payload in the order event content. The
// remainder of the content is a fallback copy of the description tag.
const contentPrefix = "New order: \n<br />"

// Item is a menu line item with the quantity ordered.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Total sums price times quantity over the cart, in fiat units.
func Total(items []Item) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// Description is the machine-readable order payload: the line items, the
// fiat pricing and the metered amount due.
type Description struct {
	Items        []Item  `json:"items"`
	FiatAmount   float64 `json:"fiatAmount"`
	FiatCurrency string  `json:"fiatCurrency"`
	// Amount is the total due in whole metered units.
	Amount int64 `json:"amount"`
}

// ErrNoDescription indicates an event that carries no parseable order
// description.
var ErrNoDescription = errors.New("event carries no order description")

// NewEvent creates and signs the order record for the given description.
// Orders are created once per checkout attempt and never mutated; they are
// referenced thereafter only by id.
func NewEvent(keys *event.Keys, relays []string, desc Description, createdAt int64) (*event.Event, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order description: %w", err)
	}

	tags := [][]string{
		append([]string{"relays"}, relays...),
		{"p", keys.Public()},
		{"description", string(payload)},
	}

	ev, err := event.Sign(event.KindOrder, tags, contentPrefix+string(payload), createdAt, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order event: %w", err)
	}
	return ev, nil
}

// ParseDescription recovers the order description from an order event,
// preferring the description tag over the content copy.
func ParseDescription(ev *event.Event) (Description, error) {
	raw := ev.Tag("description")
	if raw == "" {
		_, after, found := strings.Cut(ev.Content, "<br />")
		if !found {
			return Description{}, ErrNoDescription
		}
		raw = after
	}

	var desc Description
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return Description{}, fmt.Errorf("%w: %w", ErrNoDescription, err)
	}
	return desc, nil
}
