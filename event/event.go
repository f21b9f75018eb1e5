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

// Package event implements the signed, content-addressed records broadcast
// on the network. An event's id is the hash of a canonical serialization of
// its fields; its signature binds the id to the author's key. Events are
// immutable: changed state is always a new event.
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event kinds understood by the point of sale.
const (
	// KindOrder is a plain note carrying an order summary and its
	// machine-readable description.
	KindOrder = 1
	// KindPaymentRequest solicits a payment for an outstanding balance.
	KindPaymentRequest = 9734
	// KindPaymentReceipt is broadcast by the payment service once an
	// instruction has been honored.
	KindPaymentReceipt = 9735
)

// Event is a signed record. Tags are ordered and order is part of the id:
// reordering tags produces a different event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Sign builds a fully populated event: it serializes the given fields
// canonically, hashes them into the id and signs the id with key.
func Sign(kind int, tags [][]string, content string, createdAt int64, key *Keys) (*Event, error) {
	if key == nil || key.priv == nil {
		return nil, fmt.Errorf("cannot sign event: %w", ErrNoKey)
	}
	if tags == nil {
		tags = [][]string{}
	}

	ev := &Event{
		PubKey:    key.Public(),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}

	id, err := ev.computeID()
	if err != nil {
		return nil, fmt.Errorf("failed to compute event id: %w", err)
	}
	ev.ID = id

	digest, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event id: %w", err)
	}
	sig, err := schnorr.Sign(key.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign event: %w", err)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())

	return ev, nil
}

// Verify reports whether the event's id matches its fields and its signature
// is valid for its author. It never panics; any structural or cryptographic
// mismatch yields false and the event must not be processed.
func (e *Event) Verify() bool {
	if e == nil {
		return false
	}

	id, err := e.computeID()
	if err != nil || id != e.ID {
		return false
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	digest, err := hex.DecodeString(e.ID)
	if err != nil || len(digest) != sha256.Size {
		return false
	}

	return sig.Verify(digest, pub)
}

// Tag returns the first value of the first tag with the given name, or ""
// if no such tag exists.
func (e *Event) Tag(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// TagValues returns all values (beyond the name) of the first tag with the
// given name.
func (e *Event) TagValues(name string) []string {
	for _, tag := range e.Tags {
		if len(tag) >= 1 && tag[0] == name {
			return tag[1:]
		}
	}
	return nil
}

// computeID hashes the canonical serialization of the event. The field
// ordering is fixed: [kind, pubkey, created_at, tags, content]. Tags keep
// the order they were supplied in.
func (e *Event) computeID() (string, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode([]any{e.Kind, e.PubKey, e.CreatedAt, tags, e.Content})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}
