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

// Package ledger holds the settlement state of a single order and accounts
// payment receipts against it. Accounting is idempotent by receipt id and
// additive by amount, which makes it insensitive to duplicated, reordered
// or re-delivered receipts.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lawalletio/pos-lite/bolt11"
	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/order"
)

var (
	// ErrInvalidRecord indicates a receipt whose id or signature does not
	// check out. Such a receipt is rejected without accounting; it must
	// never be trusted.
	ErrInvalidRecord = errors.New("invalid receipt record")

	// ErrUnauthorizedAuthor indicates a receipt signed by someone other
	// than the expected recipient identity. Anyone can broadcast a
	// receipt-shaped record; only the operator's own signature counts.
	ErrUnauthorizedAuthor = errors.New("receipt author is not the expected recipient")

	// ErrDuplicateReceipt indicates a receipt that has already been
	// accounted. Re-delivery is normal on the broadcast network and is a
	// no-op, not a failure.
	ErrDuplicateReceipt = errors.New("receipt already accounted")

	// ErrIncompleteInstruction indicates a receipt whose embedded
	// instruction decodes but carries no trustable amount.
	ErrIncompleteInstruction = errors.New("embedded instruction is incomplete")

	// ErrWrongKind indicates an event that is not a payment receipt.
	ErrWrongKind = errors.New("event is not a payment receipt")
)

// State is the settlement lifecycle of an order. Overpayment is not a
// distinct state: a negative pending balance is a settled order with a
// surplus.
type State int

const (
	StateEmpty State = iota
	StateOpen
	StatePartiallyPaid
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePartiallyPaid:
		return "partially_paid"
	case StateSettled:
		return "settled"
	default:
		return "empty"
	}
}

// Result reports the outcome of accounting a single receipt.
type Result struct {
	// Accepted is true when the receipt changed the balance.
	Accepted bool
	// Reason explains a rejection. Nil when Accepted.
	Reason error
	// MilliSats is the accounted amount when Accepted.
	MilliSats int64
	// Late notes that the honored instruction is not the one currently
	// outstanding. The payment is accounted all the same; the flag only
	// serves auditing.
	Late bool
}

// Settlement owns the running state of one order. It is a single-writer
// state holder: only its own methods mutate it, and they serialize through
// the internal mutex, so receipts may be applied concurrently from the
// subscription callback and a manual refresh.
type Settlement struct {
	mu sync.Mutex

	orderID      string
	fiatAmount   float64
	fiatCurrency string

	dueMsats  int64
	paidMsats int64

	accepted map[string]struct{}
	receipts []*event.Event
	invoice  string
	state    State
}

// Open initializes the settlement state for an order. Zero-amount orders
// are settled immediately.
func Open(desc order.Description, orderID string) *Settlement {
	s := &Settlement{
		orderID:      orderID,
		fiatAmount:   desc.FiatAmount,
		fiatCurrency: desc.FiatCurrency,
		dueMsats:     desc.Amount * 1000,
		accepted:     map[string]struct{}{},
		state:        StateOpen,
	}
	if s.dueMsats <= 0 {
		s.state = StateSettled
	}
	return s
}

// Apply validates and accounts a payment receipt. The checks run in order:
// record integrity, author identity, replay guard, instruction decode and
// completeness. A receipt honoring an instruction other than the current
// one is accepted and only flagged as late; the network gives no ordering
// guarantee and an older instruction is still money.
func (s *Settlement) Apply(rcpt *event.Event, recipient string) Result {
	if rcpt == nil || !rcpt.Verify() {
		return Result{Reason: ErrInvalidRecord}
	}
	if rcpt.Kind != event.KindPaymentReceipt {
		return Result{Reason: ErrWrongKind}
	}
	if recipient == "" || rcpt.PubKey != recipient {
		return Result{Reason: ErrUnauthorizedAuthor}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.accepted[rcpt.ID]; seen {
		return Result{Reason: ErrDuplicateReceipt}
	}

	raw := rcpt.Tag("bolt11")
	inv, err := bolt11.Decode(raw)
	if err != nil {
		return Result{Reason: fmt.Errorf("failed to decode honored instruction: %w", err)}
	}
	if !inv.Complete {
		return Result{Reason: ErrIncompleteInstruction}
	}

	late := s.invoice != "" && raw != s.invoice

	s.accepted[rcpt.ID] = struct{}{}
	s.receipts = append(s.receipts, rcpt)
	s.paidMsats += inv.MilliSats

	if s.paidMsats >= s.dueMsats {
		s.state = StateSettled
	} else {
		s.state = StatePartiallyPaid
	}

	return Result{Accepted: true, MilliSats: inv.MilliSats, Late: late}
}

// SetInvoice records the instruction currently outstanding for the order.
// Earlier instructions stay payable at the protocol level; receipts
// honoring them are still accepted.
func (s *Settlement) SetInvoice(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoice = raw
}

// Invoice returns the instruction currently outstanding, if any.
func (s *Settlement) Invoice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoice
}

// Snapshot is a copy of the observable settlement state.
type Snapshot struct {
	OrderID      string
	State        State
	FiatAmount   float64
	FiatCurrency string
	DueSats      int64
	PaidSats     int64
	// PendingSats is due minus paid, rounded up so a sub-unit remainder
	// still shows as owed. Negative means the order is settled with a
	// surplus (a tip), never an error.
	PendingSats int64
	Invoice     string
	Receipts    int
}

// Snapshot returns the current state. Paid amounts are monotonically
// non-decreasing across snapshots.
func (s *Settlement) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		OrderID:      s.orderID,
		State:        s.state,
		FiatAmount:   s.fiatAmount,
		FiatCurrency: s.fiatCurrency,
		DueSats:      s.dueMsats / 1000,
		PaidSats:     s.paidMsats / 1000,
		PendingSats:  ceilSats(s.dueMsats - s.paidMsats),
		Invoice:      s.invoice,
		Receipts:     len(s.receipts),
	}
}

// PendingSats returns the outstanding balance in whole metered units. A
// sub-unit remainder rounds up: an order is never reported as fully paid
// while anything is still owed.
func (s *Settlement) PendingSats() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ceilSats(s.dueMsats - s.paidMsats)
}

// PendingMsats returns the exact outstanding balance. Settlement and
// re-issuance decisions use this; the sats accessors are for display.
func (s *Settlement) PendingMsats() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dueMsats - s.paidMsats
}

func ceilSats(msats int64) int64 {
	if msats > 0 {
		return (msats + 999) / 1000
	}
	return msats / 1000
}

// OrderID returns the id of the order this settlement tracks.
func (s *Settlement) OrderID() string {
	return s.orderID
}

// Receipts returns the accepted receipts in acceptance order.
func (s *Settlement) Receipts() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.Event, len(s.receipts))
	copy(out, s.receipts)
	return out
}
