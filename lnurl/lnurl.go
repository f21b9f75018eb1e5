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

// Package lnurl talks to the payment-service boundary: it resolves a
// human-readable payment address to the operator's callback and recipient
// identity once at startup, and mints payment instructions for outstanding
// balances.
package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lawalletio/pos-lite/event"
)

var (
	// ErrBadAddress indicates a destination that is not a user@host
	// payment address.
	ErrBadAddress = errors.New("invalid payment address")

	// ErrNoRecipientKey indicates a payment service that does not publish
	// the identity its receipts will be signed with. Without it receipts
	// cannot be authenticated, so the service is unusable.
	ErrNoRecipientKey = errors.New("payment service publishes no recipient key")
)

// InstructionRequestError indicates the payment service could not mint an
// instruction. The settlement state is untouched; the caller decides
// whether to retry.
type InstructionRequestError struct {
	// Status is the HTTP status, or 0 when the service was unreachable.
	Status int
	Err    error
}

func (e InstructionRequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("instruction request failed, status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("instruction request failed: %v", e.Err)
}

func (e InstructionRequestError) Unwrap() error {
	return e.Err
}

// Service is the resolved payment-service endpoint for a destination
// address.
type Service struct {
	// Address is the destination the service was resolved from.
	Address string
	// Callback is the URL instructions are minted at.
	Callback string
	// RecipientPubKey is the identity the operator signs receipts with.
	RecipientPubKey string
	// MinSendable and MaxSendable bound mintable amounts, in milli-units.
	MinSendable int64
	MaxSendable int64
}

// Client is an HTTP client against the payment-service boundary.
type Client struct {
	http *http.Client
}

// NewClient wraps the given HTTP client. A nil client gets a sane default
// timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{http: httpClient}
}

// payParams is the discovery document served by the payment service.
type payParams struct {
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	AllowsNostr bool   `json:"allowsNostr"`
	NostrPubKey string `json:"nostrPubkey"`
}

// Resolve discovers the payment service behind a user@host address. It is
// called once at startup; the recipient identity it returns is immutable
// for the life of the process.
func (c *Client) Resolve(ctx context.Context, address string) (*Service, error) {
	var endpoint string
	if strings.Contains(address, "://") {
		// A raw discovery URL is accepted in place of an address.
		endpoint = address
	} else {
		user, host, found := strings.Cut(address, "@")
		if !found || user == "" || host == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadAddress, address)
		}
		endpoint = fmt.Sprintf("https://%s/.well-known/lnurlp/%s", host, url.PathEscape(user))
	}
	var params payParams
	if err := c.getJSON(ctx, endpoint, &params); err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", address, err)
	}

	if params.Callback == "" {
		return nil, fmt.Errorf("failed to resolve %q: no callback", address)
	}
	if params.NostrPubKey == "" {
		return nil, fmt.Errorf("failed to resolve %q: %w", address, ErrNoRecipientKey)
	}

	return &Service{
		Address:         address,
		Callback:        params.Callback,
		RecipientPubKey: params.NostrPubKey,
		MinSendable:     params.MinSendable,
		MaxSendable:     params.MaxSendable,
	}, nil
}

// RequestInvoice mints an instruction for amountMsats, quoting the signed
// confirmation request. There is no internal retry: failures surface to the
// caller, who owns the retry decision, and the order's settlement state is
// unaffected.
func (c *Client) RequestInvoice(ctx context.Context, svc *Service, request *event.Event, amountMsats int64) (string, error) {
	encoded, err := json.Marshal(request)
	if err != nil {
		return "", InstructionRequestError{Err: fmt.Errorf("failed to encode payment request: %w", err)}
	}

	callback, err := url.Parse(svc.Callback)
	if err != nil {
		return "", InstructionRequestError{Err: fmt.Errorf("invalid callback url: %w", err)}
	}
	query := callback.Query()
	query.Set("amount", strconv.FormatInt(amountMsats, 10))
	query.Set("nostr", string(encoded))
	query.Set("lnurl", svc.Address)
	callback.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callback.String(), nil)
	if err != nil {
		return "", InstructionRequestError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", InstructionRequestError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", InstructionRequestError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var body struct {
		PR     string `json:"pr"`
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", InstructionRequestError{Status: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if body.PR == "" {
		reason := body.Reason
		if reason == "" {
			reason = "response carries no instruction"
		}
		return "", InstructionRequestError{Status: resp.StatusCode, Err: errors.New(reason)}
	}

	return body.PR, nil
}

// getJSON fetches and decodes a JSON document.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
