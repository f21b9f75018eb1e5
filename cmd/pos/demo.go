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
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lawalletio/pos-lite/bolt11"
	"github.com/lawalletio/pos-lite/event"
	"github.com/lawalletio/pos-lite/lnurl"
	"github.com/lawalletio/pos-lite/relay/inmem"
	"github.com/lawalletio/pos-lite/zap"
)

// demo simulates the whole payment side on localhost: an in-memory relay,
// an operator minting instructions over HTTP, and a payer that settles the
// order in two installments a few seconds apart.
type demo struct {
	net     *inmem.Relay
	service *lnurl.Service
	srv     *http.Server
	mints   atomic.Int64
}

func startDemo(localPub string) *demo {
	operator, err := event.GenerateKeys()
	if err != nil {
		panic(err)
	}

	d := &demo{net: inmem.New()}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	d.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
		if err != nil {
			http.Error(w, "bad amount", http.StatusBadRequest)
			return
		}
		var req event.Event
		if err := json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &req); err != nil || !req.Verify() {
			http.Error(w, "bad payment request", http.StatusBadRequest)
			return
		}

		// Pay half of the first instruction, the full amount after that.
		pay := amount
		if d.mints.Add(1) == 1 {
			pay = amount / 2
		}
		go d.pay(operator, &req, pay)

		pr, err := bolt11.Encode(amount, time.Now().Unix())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"pr": pr})
	})}
	go func() { _ = d.srv.Serve(ln) }()

	d.service = &lnurl.Service{
		Address:         "demo@" + ln.Addr().String(),
		Callback:        "http://" + ln.Addr().String() + "/callback",
		RecipientPubKey: operator.Public(),
	}
	slog.Info("demo network up", "operator", operator.Public(), "local", localPub)
	return d
}

// pay publishes an operator receipt for msats against the order the
// request points at, after a moment's pretend settlement delay.
func (d *demo) pay(operator *event.Keys, request *event.Event, msats int64) {
	time.Sleep(2 * time.Second)
	now := time.Now().Unix()

	pr, err := bolt11.Encode(msats, now)
	if err != nil {
		slog.Error("demo payer failed to build instruction", "error", err)
		return
	}
	rcpt, err := zap.NewReceipt(operator, request, pr, now)
	if err != nil {
		slog.Error("demo payer failed to build receipt", "error", err)
		return
	}
	if err := d.net.Publish(context.Background(), rcpt); err != nil {
		slog.Error("demo payer failed to publish receipt", "error", err)
	}
	slog.Info("demo payer paid", "msats", msats)
}

func (d *demo) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = d.srv.Shutdown(ctx)
	_ = d.net.Close()
}
