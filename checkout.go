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

// Package pos settles retail orders against payment receipts broadcast on
// a public network. A Checkout turns a cart into a signed order record,
// mints payment instructions for the outstanding balance, and listens for
// receipts until the order settles. One Checkout, one order.
package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/ledger"
	"github.com/lawalletio/pos-lite/lnurl"
	"github.com/lawalletio/pos-lite/order"
	"github.com/lawalletio/pos-lite/relay"
	"github.com/lawalletio/pos-lite/zap"
)

// RateFunc converts a fiat order total into whole metered units. It is a
// pure collaborator: the engine calls it once per checkout and never second
// guesses the quote.
type RateFunc func(fiatAmount float64, fiatCurrency string) (int64, error)

// Update is a settlement snapshot emitted after every state change. Err is
// set when instruction minting failed; the accounting in Snapshot is
// unaffected by such failures.
type Update struct {
	Snapshot ledger.Snapshot
	Err      error
}

// Checkout drives one order from cart to settlement. Receipts arrive on
// the subscription worker while instruction minting runs concurrently;
// accounting is update-then-notify, so a slow payment service never holds
// up the next receipt.
type Checkout struct {
	cfg  Config
	keys *event.Keys
	net  relay.Client
	ln   *lnurl.Client
	svc  *lnurl.Service
	rate RateFunc
	log  *slog.Logger

	// issueMu serializes instruction minting; a queued refresh re-reads
	// the balance under the lock, so it always mints for the current one.
	issueMu sync.Mutex

	mu         sync.Mutex
	settlement *ledger.Settlement
	sub        *relay.Subscription

	updates   chan Update
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wires a checkout. The relay client is shared across checkouts; keys,
// service and rate are process-wide collaborators resolved at startup.
func New(cfg Config, keys *event.Keys, net relay.Client, ln *lnurl.Client, svc *lnurl.Service, rate RateFunc) *Checkout {
	return &Checkout{
		cfg:     cfg,
		keys:    keys,
		net:     net,
		ln:      ln,
		svc:     svc,
		rate:    rate,
		log:     slog.Default().With("component", "checkout"),
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}
}

// Open creates, signs and broadcasts the order record for the cart, then
// starts settling it. It returns the order id the settlement is keyed by.
func (c *Checkout) Open(ctx context.Context, items []order.Item) (string, error) {
	c.mu.Lock()
	open := c.settlement != nil
	c.mu.Unlock()
	if open {
		return "", ErrAlreadyOpen
	}

	fiat := order.Total(items)
	sats, err := c.rate(fiat, c.cfg.FiatCurrency)
	if err != nil {
		return "", fmt.Errorf("failed to convert order total: %w", err)
	}

	desc := order.Description{
		Items:        items,
		FiatAmount:   fiat,
		FiatCurrency: c.cfg.FiatCurrency,
		Amount:       sats,
	}
	ev, err := order.NewEvent(c.keys, c.cfg.Relays, desc, time.Now().Unix())
	if err != nil {
		return "", err
	}
	if err := c.net.Publish(ctx, ev); err != nil {
		return "", fmt.Errorf("failed to broadcast order: %w", err)
	}
	c.log.Info("order broadcast", "order", ev.ID,
		"fiat", fiat, "currency", desc.FiatCurrency, "sats", sats)

	if err := c.track(ctx, ledger.Open(desc, ev.ID), ev.CreatedAt); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// Resume picks up an order already broadcast on the network, rebuilding
// its settlement state from the order record and whatever receipts the
// backlog holds.
func (c *Checkout) Resume(ctx context.Context, orderID string) error {
	sub, err := c.net.Subscribe(ctx, relay.Filter{
		IDs:   []string{orderID},
		Kinds: []int{event.KindOrder},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}
	defer sub.Unsubscribe()

	var ev *event.Event
	select {
	case ev = <-sub.Events():
	case <-sub.EOSE():
		// The backlog may have landed in the buffer before the signal.
		select {
		case ev = <-sub.Events():
		default:
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if ev == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if ev.ID != orderID || !ev.Verify() {
		return fmt.Errorf("%w: record failed verification", ErrOrderNotFound)
	}

	desc, err := order.ParseDescription(ev)
	if err != nil {
		return fmt.Errorf("failed to read order %s: %w", orderID, err)
	}

	c.log.Info("order resumed", "order", orderID, "sats", desc.Amount)
	return c.track(ctx, ledger.Open(desc, orderID), ev.CreatedAt)
}

// track subscribes for the order's receipts and starts the settlement
// worker.
func (c *Checkout) track(ctx context.Context, s *ledger.Settlement, openedAt int64) error {
	since := openedAt - int64(c.cfg.SinceWindow/time.Second)
	if since < 0 {
		since = 0
	}

	sub, err := c.net.Subscribe(ctx, relay.Filter{
		Kinds:   []int{event.KindPaymentReceipt},
		Authors: []string{c.svc.RecipientPubKey},
		TagE:    []string{s.OrderID()},
		Since:   since,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe for receipts: %w", err)
	}

	c.mu.Lock()
	if c.settlement != nil {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrAlreadyOpen
	}
	c.settlement = s
	c.sub = sub
	c.mu.Unlock()

	c.emit(Update{Snapshot: s.Snapshot()})

	c.wg.Add(1)
	go c.run(sub, s)
	return nil
}

// run is the per-order worker: it drains the subscription, accounting each
// receipt and kicking off re-issuance when the balance moved and is still
// positive. Minting runs on its own goroutine so the next receipt is never
// stuck behind the payment service.
func (c *Checkout) run(sub *relay.Subscription, s *ledger.Settlement) {
	defer c.wg.Done()

	eose := sub.EOSE()
	for {
		select {
		case <-c.done:
			return
		case <-sub.Done():
			return
		case <-eose:
			eose = nil
			// The backlog is flushed; whatever is still owed needs a
			// fresh instruction.
			if s.PendingMsats() > 0 {
				c.spawnRefresh()
			} else {
				c.emit(Update{Snapshot: s.Snapshot()})
			}
		case ev := <-sub.Events():
			c.onReceipt(s, ev)
		}
	}
}

// onReceipt accounts one receipt. Rejections are absorbed here: a bad or
// malicious record must not stop valid ones behind it.
func (c *Checkout) onReceipt(s *ledger.Settlement, ev *event.Event) {
	res := s.Apply(ev, c.svc.RecipientPubKey)
	if !res.Accepted {
		if errors.Is(res.Reason, ledger.ErrDuplicateReceipt) {
			c.log.Debug("receipt already accounted", "receipt", ev.ID)
		} else {
			c.log.Warn("receipt rejected", "receipt", ev.ID, "reason", res.Reason)
		}
		return
	}

	snap := s.Snapshot()
	c.log.Info("receipt accounted", "receipt", ev.ID,
		"msats", res.MilliSats, "pending_sats", snap.PendingSats, "late", res.Late)
	c.emit(Update{Snapshot: snap})

	if s.PendingMsats() > 0 {
		c.spawnRefresh()
	}
}

func (c *Checkout) spawnRefresh() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InvoiceTimeout)
		defer cancel()

		if err := c.Refresh(ctx); err != nil {
			c.log.Warn("failed to refresh instruction", "error", err)
			c.mu.Lock()
			s := c.settlement
			c.mu.Unlock()
			if s != nil {
				c.emit(Update{Snapshot: s.Snapshot(), Err: err})
			}
		}
	}()
}

// Refresh mints a fresh instruction for the current outstanding balance
// and records it as the one outstanding. It is the manual retry path for
// minting failures; a settled order refreshes to a no-op. The settlement
// state never changes on failure.
func (c *Checkout) Refresh(ctx context.Context) error {
	c.mu.Lock()
	s := c.settlement
	c.mu.Unlock()
	if s == nil {
		return ErrNotOpen
	}

	c.issueMu.Lock()
	defer c.issueMu.Unlock()

	pending := s.PendingMsats()
	if pending <= 0 {
		return nil
	}

	req, err := zap.NewRequest(c.keys, c.svc.RecipientPubKey, c.cfg.Relays,
		c.svc.Address, pending, s.OrderID(), time.Now().Unix())
	if err != nil {
		return err
	}

	pr, err := c.ln.RequestInvoice(ctx, c.svc, req, pending)
	if err != nil {
		return err
	}

	s.SetInvoice(pr)
	c.log.Info("instruction minted", "order", s.OrderID(), "pending_msats", pending)
	c.emit(Update{Snapshot: s.Snapshot()})
	return nil
}

// Snapshot returns the current settlement state.
func (c *Checkout) Snapshot() (ledger.Snapshot, error) {
	c.mu.Lock()
	s := c.settlement
	c.mu.Unlock()
	if s == nil {
		return ledger.Snapshot{}, ErrNotOpen
	}
	return s.Snapshot(), nil
}

// Updates yields settlement snapshots as they change. Slow consumers miss
// intermediate snapshots, never the latest one. The channel stays open for
// the life of the checkout; select against Done.
func (c *Checkout) Updates() <-chan Update {
	return c.updates
}

// Done is closed when the checkout is closed.
func (c *Checkout) Done() <-chan struct{} {
	return c.done
}

// Close stops listening. Accounting already done stays done; no timeout is
// ever imposed on an unsettled order, closing is the only way out short of
// settlement.
func (c *Checkout) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		c.wg.Wait()
	})
	return nil
}

// emit publishes a snapshot, displacing the oldest queued one if the
// consumer is behind.
func (c *Checkout) emit(u Update) {
	for {
		select {
		case c.updates <- u:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}
