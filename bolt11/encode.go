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

package bolt11

import (
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Encode builds a structurally valid payment instruction for the given
// amount and timestamp. The signature block is zero-filled: the result
// decodes (including Complete=true) but is not payable. It exists for the
// in-memory network and for tests.
func Encode(msats int64, timestamp int64) (string, error) {
	if msats < 0 {
		return "", fmt.Errorf("negative amount %d", msats)
	}

	data := make([]byte, 0, timestampWords+3+52+signatureWords)
	for i := timestampWords - 1; i >= 0; i-- {
		data = append(data, byte(timestamp>>(5*i))&0x1f)
	}

	// A single tagged field standing in for the payment hash: type 1,
	// length 52, zero payload.
	data = append(data, 1, 52>>5, 52&0x1f)
	data = append(data, make([]byte, 52)...)

	data = append(data, make([]byte, signatureWords)...)

	return bech32.Encode("lnbc"+hrpAmount(msats), data)
}

// hrpAmount renders an amount with the shortest multiplier that keeps it
// integral.
func hrpAmount(msats int64) string {
	if msats == 0 {
		return ""
	}
	switch {
	case msats%msatPerBTC == 0:
		return strconv.FormatInt(msats/msatPerBTC, 10)
	case msats%(msatPerBTC/1_000) == 0:
		return strconv.FormatInt(msats/(msatPerBTC/1_000), 10) + "m"
	case msats%(msatPerBTC/1_000_000) == 0:
		return strconv.FormatInt(msats/(msatPerBTC/1_000_000), 10) + "u"
	case msats%(msatPerBTC/1_000_000_000) == 0:
		return strconv.FormatInt(msats/(msatPerBTC/1_000_000_000), 10) + "n"
	default:
		return strconv.FormatInt(msats*10, 10) + "p"
	}
}
