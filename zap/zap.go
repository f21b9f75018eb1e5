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

// Package zap builds payment-solicitation events and decodes the receipts
// the payment service broadcasts once an instruction is honored.
package zap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lawalletio/pos-lite/event"
)

var (
	// ErrNotReceipt indicates an event of the wrong kind was offered as a
	// payment receipt.
	ErrNotReceipt = errors.New("event is not a payment receipt")

	// ErrNoInstruction indicates a receipt that carries no honored
	// instruction.
	ErrNoInstruction = errors.New("receipt carries no payment instruction")
)

// NewRequest builds the signed confirmation request soliciting a payment of
// amountMsats towards orderID. The request names the relays the receipt
// should be broadcast on, the destination address and the recipient
// identity that will sign the receipt.
func NewRequest(keys *event.Keys, recipient string, relays []string, destination string, amountMsats int64, orderID string, createdAt int64) (*event.Event, error) {
	tags := [][]string{
		append([]string{"relays"}, relays...),
		{"amount", strconv.FormatInt(amountMsats, 10)},
		{"lnurl", destination},
		{"p", recipient},
	}
	if orderID != "" {
		tags = append(tags, []string{"e", orderID})
	}

	ev, err := event.Sign(event.KindPaymentRequest, tags, "", createdAt, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment request: %w", err)
	}
	return ev, nil
}

// Receipt is the decoded view of a payment receipt.
type Receipt struct {
	// Event is the receipt record itself.
	Event *event.Event
	// Invoice is the raw instruction that was honored.
	Invoice string
	// Request is the embedded confirmation request that solicited the
	// payment. Nil when the receipt does not carry one; the embedded copy
	// is informational and not re-verified here.
	Request *event.Event
}

// ParseReceipt decodes a receipt event. It fails on the wrong kind or a
// missing instruction; a missing embedded request is tolerated.
func ParseReceipt(ev *event.Event) (*Receipt, error) {
	if ev == nil || ev.Kind != event.KindPaymentReceipt {
		return nil, ErrNotReceipt
	}

	invoice := ev.Tag("bolt11")
	if invoice == "" {
		return nil, ErrNoInstruction
	}

	r := &Receipt{Event: ev, Invoice: invoice}
	if raw := ev.Tag("description"); raw != "" {
		var req event.Event
		if err := json.Unmarshal([]byte(raw), &req); err == nil {
			r.Request = &req
		}
	}
	return r, nil
}

// NewReceipt builds the receipt the payment service broadcasts after
// honoring an instruction solicited by request. Exercised by the in-memory
// network and by tests; a real receipt comes from the operator's service.
func NewReceipt(keys *event.Keys, request *event.Event, invoice string, createdAt int64) (*event.Event, error) {
	if invoice == "" {
		return nil, ErrNoInstruction
	}

	embedded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to embed payment request: %w", err)
	}

	tags := [][]string{
		{"p", request.Tag("p")},
	}
	if orderID := request.Tag("e"); orderID != "" {
		tags = append(tags, []string{"e", orderID})
	}
	tags = append(tags,
		[]string{"bolt11", invoice},
		[]string{"description", string(embedded)},
	)

	ev, err := event.Sign(event.KindPaymentReceipt, tags, "", createdAt, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment receipt: %w", err)
	}
	return ev, nil
}
