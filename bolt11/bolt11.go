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

// Package bolt11 decodes payment instructions. The decode is purely
// structural: it extracts the amount, timestamp and completeness flag and
// performs no network or cryptographic validation.
package bolt11

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ccoveille/go-safecast"
)

// ErrMalformed indicates a payment instruction whose encoding is
// structurally invalid. Callers drop the instruction; it is never a reason
// to stop processing further ones.
var ErrMalformed = errors.New("malformed payment instruction")

// msatPerBTC is the number of milli-units encoded by an amountless
// multiplier.
const msatPerBTC = 100_000_000_000

// signatureWords is the size of the trailing signature block: 512 bits of
// signature plus 8 bits of recovery id, in 5-bit groups.
const signatureWords = 104

const timestampWords = 7

// Invoice is the decoded view of a payment instruction.
type Invoice struct {
	// MilliSats is the amount payable. Zero when the instruction leaves
	// the amount open.
	MilliSats int64
	// Timestamp is the unix time the instruction was minted.
	Timestamp int64
	// Complete reports whether the instruction carries its signature
	// block. When false the amount cannot be trusted and the instruction
	// must be ignored.
	Complete bool
}

// Decode parses a raw payment instruction. It returns an error wrapping
// [ErrMalformed] on any structural failure.
func Decode(raw string) (Invoice, error) {
	hrp, data, err := bech32.DecodeNoLimit(raw)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	msats, err := parseHRPAmount(hrp)
	if err != nil {
		return Invoice{}, err
	}

	if len(data) < timestampWords {
		return Invoice{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	var timestamp int64
	for _, w := range data[:timestampWords] {
		timestamp = timestamp<<5 | int64(w)
	}

	return Invoice{
		MilliSats: msats,
		Timestamp: timestamp,
		Complete:  hasSignature(data),
	}, nil
}

// Sats returns the amount in whole metered units.
func (i Invoice) Sats() int64 {
	return i.MilliSats / 1000
}

// parseHRPAmount extracts the amount from the human-readable part:
// "ln", a network prefix, then digits and an optional multiplier.
func parseHRPAmount(hrp string) (int64, error) {
	if !strings.HasPrefix(hrp, "ln") {
		return 0, fmt.Errorf("%w: human-readable part %q", ErrMalformed, hrp)
	}

	rest := hrp[2:]
	i := 0
	for i < len(rest) && unicode.IsLetter(rune(rest[i])) {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: missing network prefix", ErrMalformed)
	}
	amount := rest[i:]
	if amount == "" {
		return 0, nil
	}

	multiplier := uint64(msatPerBTC)
	divisor := uint64(1)
	switch amount[len(amount)-1] {
	case 'm':
		multiplier = msatPerBTC / 1_000
		amount = amount[:len(amount)-1]
	case 'u':
		multiplier = msatPerBTC / 1_000_000
		amount = amount[:len(amount)-1]
	case 'n':
		multiplier = msatPerBTC / 1_000_000_000
		amount = amount[:len(amount)-1]
	case 'p':
		multiplier, divisor = 1, 10
		amount = amount[:len(amount)-1]
	}

	value, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformed, amount)
	}
	if value%divisor != 0 {
		return 0, fmt.Errorf("%w: amount %q is not a whole number of milli-units", ErrMalformed, amount)
	}
	value /= divisor
	if multiplier != 0 && value > math.MaxUint64/multiplier {
		return 0, fmt.Errorf("%w: amount overflow", ErrMalformed)
	}

	msats, err := safecast.ToInt64(value * multiplier)
	if err != nil {
		return 0, fmt.Errorf("%w: amount overflow: %w", ErrMalformed, err)
	}
	return msats, nil
}

// hasSignature reports whether a full signature block follows a
// well-formed tagged-field section.
func hasSignature(data []byte) bool {
	if len(data) < timestampWords+signatureWords {
		return false
	}

	// Walk the tagged fields between the timestamp and the signature:
	// one type word, two length words, then the payload.
	tagged := data[timestampWords : len(data)-signatureWords]
	i := 0
	for i < len(tagged) {
		if i+3 > len(tagged) {
			return false
		}
		length := int(tagged[i+1])<<5 | int(tagged[i+2])
		i += 3 + length
	}
	return i == len(tagged)
}
