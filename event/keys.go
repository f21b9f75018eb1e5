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

package event

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrNoKey indicates an operation that needs signing key material was given
// none.
var ErrNoKey = errors.New("no signing key")

// Keys is the local signing identity of the process. It is created once at
// startup and immutable thereafter.
type Keys struct {
	priv *btcec.PrivateKey
	pub  string
}

// GenerateKeys creates a fresh identity.
func GenerateKeys() (*Keys, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newKeys(priv), nil
}

// ParseKeys loads an identity from a 32-byte hex-encoded secret key.
func ParseKeys(secretHex string) (*Keys, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid secret key length, got %d, want 32", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, errors.New("invalid secret key: zero scalar")
	}
	return newKeys(priv), nil
}

func newKeys(priv *btcec.PrivateKey) *Keys {
	return &Keys{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// Public returns the x-only public key in hex. This is the author field of
// every event the identity signs.
func (k *Keys) Public() string {
	return k.pub
}

// Secret returns the hex-encoded secret key.
func (k *Keys) Secret() string {
	return hex.EncodeToString(k.priv.Serialize())
}
