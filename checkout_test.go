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

package pos_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pos "github.com/lawalletio/pos-lite"
	"github.com/lawalletio/pos-lite/bolt11"
	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/inttest"
	"github.com/lawalletio/pos-lite/ledger"
	"github.com/lawalletio/pos-lite/lnurl"
	"github.com/lawalletio/pos-lite/order"
	"github.com/lawalletio/pos-lite/relay/inmem"
	"github.com/lawalletio/pos-lite/zap"
)

// checkoutFixture stands up the full settlement loop against an in-memory
// relay and a stub payment service that mints real instructions.
type checkoutFixture struct {
	t        *testing.T
	cfg      pos.Config
	local    *event.Keys
	operator *event.Keys
	net      *inmem.Relay
	ln       *lnurl.Client
	svc      *lnurl.Service
	checkout *pos.Checkout

	orderID string
	// failMint makes the payment service refuse instruction requests.
	failMint atomic.Bool
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	inttest.WrapLog(t)

	local, err := event.GenerateKeys()
	require.NoError(t, err)
	operator, err := event.GenerateKeys()
	require.NoError(t, err)

	f := &checkoutFixture{
		t:        t,
		local:    local,
		operator: operator,
		net:      inmem.New(),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failMint.Load() {
			http.Error(w, "minting disabled", http.StatusInternalServerError)
			return
		}
		amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
		require.NoError(t, err)

		// The quoted confirmation request must be a valid signed record.
		var req event.Event
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &req))
		require.True(t, req.Verify())

		pr, err := bolt11.Encode(amount, time.Now().Unix())
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"pr": pr}))
	}))
	t.Cleanup(srv.Close)

	f.cfg = pos.DefaultConfig()
	f.cfg.Relays = []string{"wss://relay.test"}
	f.cfg.Destination = "shop@pay.test"
	f.cfg.InvoiceTimeout = 2 * time.Second
	f.ln = lnurl.NewClient(srv.Client())
	f.svc = &lnurl.Service{
		Address:         f.cfg.Destination,
		Callback:        srv.URL + "/callback",
		RecipientPubKey: operator.Public(),
	}

	f.checkout = pos.New(f.cfg, local, f.net, f.ln, f.svc, func(fiat float64, _ string) (int64, error) {
		return int64(fiat), nil
	})
	t.Cleanup(func() { _ = f.checkout.Close() })
	return f
}

// open broadcasts an order whose total converts to the given sats.
func (f *checkoutFixture) open(sats int64) {
	f.t.Helper()
	id, err := f.checkout.Open(context.Background(), []order.Item{
		{ID: "i1", Name: "flat white", Price: float64(sats), Quantity: 1},
	})
	require.NoError(f.t, err)
	f.orderID = id
}

// pay publishes an operator-signed receipt settling the given sats against
// the open order.
func (f *checkoutFixture) pay(sats int64) *event.Event {
	return f.payMsats(sats * 1000)
}

func (f *checkoutFixture) payMsats(msats int64) *event.Event {
	f.t.Helper()
	now := time.Now().Unix()

	req, err := zap.NewRequest(f.local, f.operator.Public(), f.cfg.Relays,
		f.cfg.Destination, msats, f.orderID, now)
	require.NoError(f.t, err)
	pr, err := bolt11.Encode(msats, now)
	require.NoError(f.t, err)
	rcpt, err := zap.NewReceipt(f.operator, req, pr, now)
	require.NoError(f.t, err)

	require.NoError(f.t, f.net.Publish(context.Background(), rcpt))
	return rcpt
}

// waitFor polls the settlement snapshot until cond holds.
func (f *checkoutFixture) waitFor(cond func(ledger.Snapshot) bool) ledger.Snapshot {
	f.t.Helper()
	var snap ledger.Snapshot
	require.Eventually(f.t, func() bool {
		s, err := f.checkout.Snapshot()
		if err != nil {
			return false
		}
		snap = s
		return cond(s)
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestCheckoutSettlesAcrossPartialPayments(t *testing.T) {
	f := newCheckoutFixture(t)

	f.open(500)

	// Once the backlog is flushed the outstanding balance gets an
	// instruction for the full amount.
	snap := f.waitFor(func(s ledger.Snapshot) bool { return s.Invoice != "" })
	inv, err := bolt11.Decode(snap.Invoice)
	require.NoError(t, err)
	require.Equal(t, int64(500), inv.Sats())

	first := f.pay(300)
	snap = f.waitFor(func(s ledger.Snapshot) bool { return s.PaidSats == 300 })
	require.Equal(t, ledger.StatePartiallyPaid, snap.State)
	require.Equal(t, int64(200), snap.PendingSats)

	// The replacement instruction covers exactly what is still owed.
	snap = f.waitFor(func(s ledger.Snapshot) bool {
		inv, err := bolt11.Decode(s.Invoice)
		return err == nil && inv.Sats() == 200
	})

	// Redelivery of an accounted receipt changes nothing.
	require.NoError(t, f.net.Publish(context.Background(), first))
	time.Sleep(50 * time.Millisecond)
	snap, err = f.checkout.Snapshot()
	require.NoError(t, err)
	require.Equal(t, int64(300), snap.PaidSats)
	require.Equal(t, 1, snap.Receipts)

	f.pay(200)
	snap = f.waitFor(func(s ledger.Snapshot) bool { return s.State == ledger.StateSettled })
	require.Equal(t, int64(500), snap.PaidSats)
	require.Equal(t, int64(0), snap.PendingSats)
}

func TestCheckoutSettlesSubUnitRemainder(t *testing.T) {
	f := newCheckoutFixture(t)

	f.open(500)
	f.waitFor(func(s ledger.Snapshot) bool { return s.Invoice != "" })

	// One milli-unit short: the order must stay payable, with a fresh
	// instruction for the exact remainder.
	f.payMsats(499_999)
	snap := f.waitFor(func(s ledger.Snapshot) bool {
		inv, err := bolt11.Decode(s.Invoice)
		return err == nil && inv.MilliSats == 1
	})
	require.Equal(t, ledger.StatePartiallyPaid, snap.State)
	require.Equal(t, int64(1), snap.PendingSats)

	f.payMsats(1)
	f.waitFor(func(s ledger.Snapshot) bool { return s.State == ledger.StateSettled })
}

func TestCheckoutOverpaymentSettlesWithTip(t *testing.T) {
	f := newCheckoutFixture(t)

	f.open(500)
	f.waitFor(func(s ledger.Snapshot) bool { return s.Invoice != "" })

	f.pay(600)
	snap := f.waitFor(func(s ledger.Snapshot) bool { return s.State == ledger.StateSettled })
	require.Equal(t, int64(600), snap.PaidSats)
	require.Equal(t, int64(-100), snap.PendingSats)
}

func TestCheckoutSurfacesMintingFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	f.failMint.Store(true)

	f.open(500)

	// The failure reaches the consumer without touching the accounting.
	deadline := time.After(5 * time.Second)
	var got pos.Update
	for got.Err == nil {
		select {
		case got = <-f.checkout.Updates():
		case <-deadline:
			t.Fatal("no failure update delivered")
		}
	}
	var reqErr lnurl.InstructionRequestError
	require.ErrorAs(t, got.Err, &reqErr)
	require.Equal(t, http.StatusInternalServerError, reqErr.Status)
	require.Empty(t, got.Snapshot.Invoice)
	require.Equal(t, int64(500), got.Snapshot.PendingSats)

	// The retry decision is the caller's; a manual refresh recovers.
	f.failMint.Store(false)
	require.NoError(t, f.checkout.Refresh(context.Background()))
	snap, err := f.checkout.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, snap.Invoice)
}

func TestCheckoutResumeRebuildsFromBacklog(t *testing.T) {
	f := newCheckoutFixture(t)

	desc := order.Description{
		Items:        []order.Item{{ID: "i1", Name: "espresso", Price: 500, Quantity: 1}},
		FiatAmount:   500,
		FiatCurrency: f.cfg.FiatCurrency,
		Amount:       500,
	}
	ev, err := order.NewEvent(f.local, f.cfg.Relays, desc, time.Now().Unix())
	require.NoError(t, err)
	require.NoError(t, f.net.Publish(context.Background(), ev))
	f.orderID = ev.ID

	// A payment landed while nobody was listening.
	f.pay(300)

	require.NoError(t, f.checkout.Resume(context.Background(), ev.ID))
	snap := f.waitFor(func(s ledger.Snapshot) bool { return s.PaidSats == 300 })
	require.Equal(t, ledger.StatePartiallyPaid, snap.State)
	require.Equal(t, int64(200), snap.PendingSats)

	f.pay(200)
	f.waitFor(func(s ledger.Snapshot) bool { return s.State == ledger.StateSettled })
}

func TestCheckoutResumeUnknownOrder(t *testing.T) {
	f := newCheckoutFixture(t)

	err := f.checkout.Resume(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorIs(t, err, pos.ErrOrderNotFound)
}

func TestCheckoutRejectsSecondOpen(t *testing.T) {
	f := newCheckoutFixture(t)

	f.open(500)
	_, err := f.checkout.Open(context.Background(), []order.Item{
		{ID: "i2", Name: "cortado", Price: 100, Quantity: 1},
	})
	require.ErrorIs(t, err, pos.ErrAlreadyOpen)
}

func TestCheckoutBeforeOpen(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.checkout.Snapshot()
	require.ErrorIs(t, err, pos.ErrNotOpen)
	require.ErrorIs(t, f.checkout.Refresh(context.Background()), pos.ErrNotOpen)
}

func TestCheckoutCloseIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t)

	f.open(500)
	require.NoError(t, f.checkout.Close())
	require.NoError(t, f.checkout.Close())

	select {
	case <-f.checkout.Done():
	default:
		t.Fatal("done channel still open after close")
	}
}
