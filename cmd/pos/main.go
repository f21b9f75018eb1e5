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

// Command pos opens one retail order from the command line and waits for
// it to settle. Cart items are positional arguments of the form
// name:price[:quantity].
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	slogenv "github.com/cbrewster/slog-env"

	pos "github.com/lawalletio/pos-lite"
	"github.com/lawalletio/pos-lite/app"
	"github.com/lawalletio/pos-lite/app/config"
	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/lnurl"
	"github.com/lawalletio/pos-lite/order"
	"github.com/lawalletio/pos-lite/relay"
)

func main() {
	slog.SetDefault(slog.New(slogenv.NewHandler(
		slog.NewTextHandler(os.Stderr, nil))))

	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("pos", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	resumeID := fs.String("resume", "", "resume an existing order by id instead of opening one")
	demo := fs.Bool("demo", false, "run against a local in-memory network with a simulated payer")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := pos.DefaultConfig()
	if *demo {
		// The demo network provides its own destination and relay.
		cfg.Destination = "demo@localhost"
		cfg.SatsPerUnit = 1
	}
	if err := config.Load(&cfg, *configPath, envBindings()); err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	items, err := parseItems(fs.Args())
	if err != nil {
		slog.Error("invalid cart", "error", err)
		return 2
	}
	if len(items) == 0 && *resumeID == "" {
		slog.Error("nothing to do: give cart items or -resume")
		return 2
	}

	keys, err := loadKeys(cfg.SecretKey)
	if err != nil {
		slog.Error("failed to load signing key", "error", err)
		return 1
	}

	var (
		net relay.Client
		svc *lnurl.Service
		ln  = lnurl.NewClient(nil)
	)
	if *demo {
		d := startDemo(keys.Public())
		defer d.stop()
		net, svc = d.net, d.service
		cfg.Destination = svc.Address
	} else {
		if len(cfg.Relays) == 0 {
			slog.Error("no relays configured")
			return 1
		}
		ws := relay.NewWSClient(cfg.Relays[0])
		if err := ws.Connect(ctx); err != nil {
			slog.Error("failed to connect to relay", "url", cfg.Relays[0], "error", err)
			return 1
		}
		net = ws

		svc, err = ln.Resolve(ctx, cfg.Destination)
		if err != nil {
			slog.Error("failed to resolve payment destination", "error", err)
			return 1
		}
	}

	rate := func(fiat float64, _ string) (int64, error) {
		if cfg.SatsPerUnit <= 0 {
			return 0, errors.New("sats_per_unit must be positive")
		}
		return int64(fiat * cfg.SatsPerUnit), nil
	}

	checkout := pos.New(cfg, keys, net, ln, svc, rate)
	a := &checkoutApp{
		checkout: checkout,
		net:      net,
		open: func(ctx context.Context) error {
			if *resumeID != "" {
				return checkout.Resume(ctx, *resumeID)
			}
			_, err := checkout.Open(ctx, items)
			return err
		},
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, a)
}

func envBindings() map[string]config.Binding[pos.Config] {
	return map[string]config.Binding[pos.Config]{
		"POS_DESTINATION": {Set: func(c *pos.Config, v string) error {
			return config.SetString(&c.Destination, v)
		}},
		"POS_SECRET_KEY": {Set: func(c *pos.Config, v string) error {
			return config.SetString(&c.SecretKey, v)
		}},
		"POS_RELAYS": {Set: func(c *pos.Config, v string) error {
			return config.SetStrings(&c.Relays, v)
		}},
		"POS_FIAT_CURRENCY": {Set: func(c *pos.Config, v string) error {
			return config.SetString(&c.FiatCurrency, v)
		}},
		"POS_INVOICE_TIMEOUT": {Set: func(c *pos.Config, v string) error {
			return config.SetDuration(&c.InvoiceTimeout, v)
		}},
	}
}

func loadKeys(secret string) (*event.Keys, error) {
	if secret == "" {
		keys, err := event.GenerateKeys()
		if err != nil {
			return nil, err
		}
		slog.Warn("no secret_key configured, using a throwaway identity",
			"pubkey", keys.Public())
		return keys, nil
	}
	return event.ParseKeys(secret)
}

// parseItems turns name:price[:quantity] arguments into a cart.
func parseItems(args []string) ([]order.Item, error) {
	items := make([]order.Item, 0, len(args))
	for i, arg := range args {
		parts := strings.Split(arg, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("item %q: want name:price[:quantity]", arg)
		}
		price, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("item %q: bad price", arg)
		}
		qty := 1
		if len(parts) == 3 {
			qty, err = strconv.Atoi(parts[2])
			if err != nil || qty < 1 {
				return nil, fmt.Errorf("item %q: bad quantity", arg)
			}
		}
		items = append(items, order.Item{
			ID:       strconv.Itoa(i + 1),
			Name:     parts[0],
			Price:    price,
			Quantity: qty,
		})
	}
	return items, nil
}
