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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	pos "github.com/lawalletio/pos-lite"
	"github.com/lawalletio/pos-lite/ledger"
	"github.com/lawalletio/pos-lite/relay"
)

// checkoutApp drives one checkout to settlement and reports its progress
// on stdout.
type checkoutApp struct {
	checkout *pos.Checkout
	net      relay.Client
	open     func(ctx context.Context) error
}

func (a *checkoutApp) Run() error {
	if err := a.open(context.Background()); err != nil {
		return err
	}

	for {
		select {
		case <-a.checkout.Done():
			return nil
		case u := <-a.checkout.Updates():
			if u.Err != nil {
				slog.Error("instruction minting failed, will retry on next receipt",
					"error", u.Err)
				continue
			}
			report(u.Snapshot)
			if u.Snapshot.State == ledger.StateSettled {
				return nil
			}
		}
	}
}

func (a *checkoutApp) Shutdown(context.Context) error {
	if err := a.checkout.Close(); err != nil {
		return err
	}
	return a.net.Close()
}

func report(s ledger.Snapshot) {
	switch s.State {
	case ledger.StateSettled:
		if s.PendingSats < 0 {
			fmt.Fprintf(os.Stdout, "order %s settled: %d sats paid (%d sats tip)\n",
				s.OrderID, s.PaidSats, -s.PendingSats)
			return
		}
		fmt.Fprintf(os.Stdout, "order %s settled: %d sats paid\n", s.OrderID, s.PaidSats)
	default:
		fmt.Fprintf(os.Stdout, "order %s: %d/%d sats paid, %d pending\n",
			s.OrderID, s.PaidSats, s.DueSats, s.PendingSats)
		if s.Invoice != "" {
			fmt.Fprintf(os.Stdout, "pay: %s\n", s.Invoice)
		}
	}
}
